package txclient

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/iklop007/galaxytx/pkg/store"
	"github.com/iklop007/galaxytx/pkg/txerr"
	"github.com/iklop007/galaxytx/pkg/wire"
)

// Config tunes a TcClient's connection and call behavior.
type Config struct {
	Address          string
	DialTimeout      time.Duration
	CallTimeout      time.Duration
	Reconnect        *ReconnectConfig
	Heartbeat        *HeartbeatConfig
}

// DefaultConfig mirrors the teacher's DSN defaults, retargeted from AMQP
// fields to a plain TCP address.
func DefaultConfig(address string) *Config {
	return &Config{
		Address:     address,
		DialTimeout: 5 * time.Second,
		CallTimeout: 10 * time.Second,
		Reconnect:   DefaultReconnectConfig(),
		Heartbeat:   DefaultHeartbeatConfig(),
	}
}

// TcClient is the business-process-side handle onto the coordinator: every
// Begin/Commit/Rollback/Status/RegisterBranch call is a synchronous
// request/response RPC over one persistent wire.Conn, replacing the
// teacher's per-call RabbitMQ reply-queue round trip with direct framing.
type TcClient struct {
	cfg     *Config
	connMgr *ConnectionManager
	hb      *HeartbeatMonitor
}

// Dial connects to the coordinator at cfg.Address and starts reconnection
// and heartbeat monitoring.
func Dial(cfg *Config) (*TcClient, error) {
	if cfg == nil {
		return nil, txerr.New(txerr.Internal, "txclient: nil config")
	}
	connMgr := NewConnectionManager(cfg.Address, cfg.DialTimeout, cfg.Reconnect)
	if err := connMgr.Connect(); err != nil {
		return nil, err
	}
	c := &TcClient{cfg: cfg, connMgr: connMgr}
	c.hb = NewHeartbeatMonitor(connMgr, cfg.Heartbeat)
	c.hb.Start()
	return c, nil
}

// Close tears down the heartbeat monitor and the underlying connection.
func (c *TcClient) Close() error {
	c.hb.Stop()
	return c.connMgr.Close()
}

func (c *TcClient) call(ctx context.Context, msgType wire.MessageType, body interface{}, out interface{}) error {
	conn, err := c.connMgr.Conn()
	if err != nil {
		return err
	}
	encoded, err := conn.Codec().Encode(body)
	if err != nil {
		return txerr.Wrap(txerr.Protocol, "encode request body", err)
	}
	req := &wire.RpcMessage{ID: conn.NextID(), Type: msgType, Codec: conn.Codec().Name(), Body: encoded}

	deadline := c.cfg.CallTimeout
	if d, ok := ctx.Deadline(); ok {
		if remaining := time.Until(d); remaining < deadline {
			deadline = remaining
		}
	}

	resp, err := conn.Call(req, deadline)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := conn.Codec().Decode(resp.Body, out); err != nil {
		return txerr.Wrap(txerr.Protocol, "decode response body", err)
	}
	return nil
}

// BeginGlobalTransaction starts a new global transaction and returns its
// xid.
func (c *TcClient) BeginGlobalTransaction(ctx context.Context, applicationID, transactionName string, timeoutMs int64) (string, error) {
	req := wire.GlobalBeginBody{ApplicationID: applicationID, TransactionName: transactionName, TimeoutMs: timeoutMs}
	var resp wire.GlobalBeginResultBody
	if err := c.call(ctx, wire.GlobalBegin, req, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", txerr.New(txerr.GlobalNotFound, resp.Error)
	}
	return resp.XID, nil
}

// CommitGlobalTransaction drives phase two to commit.
func (c *TcClient) CommitGlobalTransaction(ctx context.Context, xid string) (store.GlobalStatus, error) {
	return c.globalFinish(ctx, wire.GlobalCommit, xid)
}

// RollbackGlobalTransaction drives phase two to roll back.
func (c *TcClient) RollbackGlobalTransaction(ctx context.Context, xid string) (store.GlobalStatus, error) {
	return c.globalFinish(ctx, wire.GlobalRollback, xid)
}

func (c *TcClient) globalFinish(ctx context.Context, msgType wire.MessageType, xid string) (store.GlobalStatus, error) {
	req := wire.GlobalCommitBody{XID: xid}
	var resp wire.GlobalStatusResultBody
	if err := c.call(ctx, msgType, req, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", txerr.New(txerr.Internal, resp.Error)
	}
	return store.GlobalStatus(resp.Status), nil
}

// QueryGlobalStatus asks the coordinator for a global transaction's current
// status.
func (c *TcClient) QueryGlobalStatus(ctx context.Context, xid string) (store.GlobalStatus, error) {
	req := wire.GlobalStatusBody{XID: xid}
	var resp wire.GlobalStatusResultBody
	if err := c.call(ctx, wire.GlobalStatus, req, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", txerr.New(txerr.GlobalNotFound, resp.Error)
	}
	return store.GlobalStatus(resp.Status), nil
}

// RegisterBranch enlists an AT-mode branch in xid's global transaction.
// Satisfies pkg/interceptor's BranchRegistrar.
func (c *TcClient) RegisterBranch(ctx context.Context, xid, resourceGroupID, resourceID, lockKey string, applicationData []byte) (int64, error) {
	return c.RegisterBranchTyped(ctx, xid, resourceGroupID, resourceID, store.BranchAT, lockKey, applicationData)
}

// RegisterBranchTyped enlists a branch of any resource-manager kind, used
// directly by TCC/XA/MQ/HTTP business code that calls the coordinator
// without going through the AT data source wrapper.
func (c *TcClient) RegisterBranchTyped(ctx context.Context, xid, resourceGroupID, resourceID string, branchType store.BranchType, lockKey string, applicationData []byte) (int64, error) {
	req := wire.BranchRegisterBody{
		XID: xid, ResourceGroupID: resourceGroupID, ResourceID: resourceID,
		BranchType: string(branchType), LockKey: lockKey, ApplicationData: applicationData,
	}
	var resp wire.BranchRegisterResultBody
	if err := c.call(ctx, wire.BranchRegister, req, &resp); err != nil {
		return 0, err
	}
	if resp.Error != "" {
		return 0, txerr.New(txerr.LockConflict, resp.Error)
	}
	return resp.BranchID, nil
}

// ReportBranchStatus tells the coordinator a branch's phase-one outcome
// (TCC Try, XA Prepare) once it is known.
func (c *TcClient) ReportBranchStatus(ctx context.Context, xid string, branchID int64, status store.BranchStatus) error {
	req := wire.BranchStatusReportBody{XID: xid, BranchID: branchID, Status: string(status)}
	var resp map[string]string
	if err := c.call(ctx, wire.BranchStatusReport, req, &resp); err != nil {
		return err
	}
	if e, ok := resp["error"]; ok && e != "" {
		return txerr.New(txerr.Internal, e)
	}
	return nil
}

// dial is the low-level net.Dial step the ConnectionManager retries.
func dial(address string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, fmt.Errorf("txclient: dial %s: %w", address, err)
	}
	return conn, nil
}
