package server

import (
	"fmt"

	amqpError "github.com/aleybovich/carrot-broker/amqperror"
	"github.com/aleybovich/carrot-broker/internal/broker"
	"github.com/aleybovich/carrot-broker/internal/wire"
)

func (ch *channel) handleConfirmSelect(m *wire.ConfirmSelect) error {
	if ch.txn != nil || ch.dtx {
		return amqpError.Soft(amqpError.PreconditionFailed, "cannot select confirm mode on a transactional channel")
	}
	ch.confirm = true
	if m.NoWait {
		return nil
	}
	return ch.conn.send(ch.id, &wire.ConfirmSelectOk{})
}

// --- tx ---

func (ch *channel) handleTxSelect() error {
	if ch.confirm {
		return amqpError.Soft(amqpError.PreconditionFailed, "cannot select tx mode on a channel in confirm mode")
	}
	if ch.dtx {
		return amqpError.Soft(amqpError.PreconditionFailed, "cannot select tx mode on a dtx channel")
	}
	if ch.txn == nil {
		ch.txn = broker.NewTransaction(ch.vhost)
	}
	return ch.conn.send(ch.id, &wire.TxSelectOk{})
}

func (ch *channel) handleTxCommit() error {
	if ch.txn == nil {
		return amqpError.Soft(amqpError.PreconditionFailed, "channel is not transactional")
	}
	refused, err := ch.txn.Commit()
	if err != nil {
		return err
	}
	if refused > 0 {
		ch.logger.Warn("Transaction on channel %d committed with %d refused enqueues", ch.id, refused)
	}
	return ch.conn.send(ch.id, &wire.TxCommitOk{})
}

func (ch *channel) handleTxRollback() error {
	if ch.txn == nil {
		return amqpError.Soft(amqpError.PreconditionFailed, "channel is not transactional")
	}
	ch.txn.Rollback()
	return ch.conn.send(ch.id, &wire.TxRollbackOk{})
}

// --- dtx ---

func (ch *channel) handleDtx(m wire.Method) error {
	if _, ok := m.(*wire.DtxSelect); ok {
		if ch.txn != nil || ch.confirm {
			return amqpError.Soft(amqpError.PreconditionFailed, "cannot select dtx mode on a tx or confirm channel")
		}
		ch.dtx = true
		return ch.conn.send(ch.id, &wire.DtxSelectOk{})
	}
	if !ch.dtx {
		return amqpError.Soft(amqpError.CommandInvalid, "%s before dtx.select", wire.Name(m))
	}

	reg := ch.vhost.Dtx
	switch m := m.(type) {
	case *wire.DtxStart:
		if ch.branch != nil {
			return ch.dtxResult(wire.MethodDtxStartOk, wire.XAErProto, m.Xid)
		}
		b, code := reg.Start(ch, m.Xid, m.Join, m.Resume)
		if b != nil {
			ch.branch = b
		}
		return ch.dtxResult(wire.MethodDtxStartOk, code, m.Xid)

	case *wire.DtxEnd:
		if ch.branch == nil || ch.branch.Xid.Key() != m.Xid.Key() {
			return ch.dtxResult(wire.MethodDtxEndOk, wire.XAErProto, m.Xid)
		}
		code := reg.End(ch, m.Xid, m.Fail, m.Suspend)
		switch code {
		case wire.XAErProto, wire.XAErInval, wire.XAErNoTA:
		default:
			ch.branch = nil
		}
		return ch.dtxResult(wire.MethodDtxEndOk, code, m.Xid)

	case *wire.DtxPrepare:
		code, err := reg.Prepare(m.Xid)
		if err != nil {
			return fmt.Errorf("preparing %s: %w", m.Xid, err)
		}
		return ch.dtxResult(wire.MethodDtxPrepareOk, code, m.Xid)

	case *wire.DtxCommit:
		code, err := reg.Commit(m.Xid, m.OnePhase)
		if err != nil {
			return fmt.Errorf("committing %s: %w", m.Xid, err)
		}
		return ch.dtxResult(wire.MethodDtxCommitOk, code, m.Xid)

	case *wire.DtxRollback:
		code, err := reg.Rollback(m.Xid)
		if err != nil {
			return fmt.Errorf("rolling back %s: %w", m.Xid, err)
		}
		return ch.dtxResult(wire.MethodDtxRollbackOk, code, m.Xid)

	case *wire.DtxForget:
		return ch.dtxResult(wire.MethodDtxForgetOk, reg.Forget(m.Xid), m.Xid)

	case *wire.DtxGetTimeout:
		secs, code := reg.GetTimeout(m.Xid)
		if code != wire.XAOk {
			return amqpError.Soft(amqpError.NotFound, "unknown xid %s", m.Xid)
		}
		return ch.conn.send(ch.id, &wire.DtxGetTimeoutOk{Timeout: secs})

	case *wire.DtxSetTimeout:
		switch code := reg.SetTimeout(m.Xid, m.Timeout); code {
		case wire.XAOk:
		case wire.XAErNoTA:
			return amqpError.Soft(amqpError.NotFound, "unknown xid %s", m.Xid)
		default:
			ch.logger.Debug("Timeout of %s not changed: %s", m.Xid, wire.XAResultName(code))
		}
		return ch.conn.send(ch.id, &wire.DtxSetTimeoutOk{})

	case *wire.DtxRecover:
		return ch.conn.send(ch.id, &wire.DtxRecoverOk{InDoubt: reg.Recover()})
	}
	return amqpError.Hard(amqpError.CommandInvalid, "unexpected %s from client", wire.Name(m))
}

func (ch *channel) dtxResult(method uint16, code int16, xid wire.Xid) error {
	if code != wire.XAOk {
		ch.logger.Debug("%s for %s: %s", wire.MethodName(wire.ClassDtx, method), xid, wire.XAResultName(code))
	}
	return ch.conn.send(ch.id, &wire.DtxResult{Method: method, Status: code})
}
