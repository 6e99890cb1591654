// Command tm-demo exercises TransactionInterceptor end to end: an order
// placement spanning two AT-managed resources (an orders database and an
// inventory database) behind one global transaction, committed on success
// and automatically compensated when the second resource fails.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/iklop007/galaxytx/pkg/interceptor"
	"github.com/iklop007/galaxytx/pkg/txclient"
)

var (
	tcAddress    = flag.String("tc-address", "127.0.0.1:8091", "transaction coordinator address")
	ordersDSN    = flag.String("orders-dsn", "galaxytx:galaxytx@tcp(localhost:3306)/orders_demo", "orders database DSN")
	inventoryDSN = flag.String("inventory-dsn", "galaxytx:galaxytx@tcp(localhost:3306)/inventory_demo", "inventory database DSN")
	simulateFail = flag.Bool("simulate-failure", false, "fail the inventory step to exercise rollback")
)

func main() {
	flag.Parse()

	client, err := txclient.Dial(txclient.DefaultConfig(*tcAddress))
	if err != nil {
		log.Fatalf("[tm-demo] dial tc: %v", err)
	}
	defer client.Close()

	ordersDB, err := sql.Open("mysql", *ordersDSN)
	if err != nil {
		log.Fatalf("[tm-demo] open orders db: %v", err)
	}
	defer ordersDB.Close()

	inventoryDB, err := sql.Open("mysql", *inventoryDSN)
	if err != nil {
		log.Fatalf("[tm-demo] open inventory db: %v", err)
	}
	defer inventoryDB.Close()

	orders := interceptor.NewDataSource(ordersDB, client, interceptor.NewUndoLogRepository(ordersDB), "orders-db")
	inventory := interceptor.NewDataSource(inventoryDB, client, interceptor.NewUndoLogRepository(inventoryDB), "inventory-db")

	interceptorMW := txclient.NewTransactionInterceptor(client, "tm-demo", "default", 30000)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = interceptorMW.WithGlobalTransaction(ctx, "place-order", func(txCtx context.Context) error {
		if _, err := orders.ExecContext(txCtx, "INSERT INTO orders (customer_id, sku, quantity) VALUES (?, ?, ?)", 42, "widget-1", 3); err != nil {
			return err
		}

		if *simulateFail {
			return errSimulatedInventoryFailure
		}

		if _, err := inventory.ExecContext(txCtx, "UPDATE stock SET quantity = quantity - ? WHERE sku = ?", 3, "widget-1"); err != nil {
			return err
		}
		return nil
	})

	if err != nil {
		log.Printf("[tm-demo] global transaction rolled back: %v", err)
		return
	}
	log.Println("[tm-demo] global transaction committed")
}

var errSimulatedInventoryFailure = errors.New("simulated inventory step failure")
