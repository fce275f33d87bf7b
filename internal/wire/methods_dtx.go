package wire

import (
	"encoding/hex"
	"fmt"
)

// XA result codes carried by the dtx *-ok methods.
const (
	XAOk         int16 = 0
	XARdOnly     int16 = 3
	XARbRollback int16 = 100
	XARbTimeout  int16 = 106
	XAErRmErr    int16 = -3
	XAErNoTA     int16 = -4
	XAErInval    int16 = -5
	XAErProto    int16 = -6
	XAErDupID    int16 = -8
)

// XAResultName returns the symbolic name of an XA result code.
func XAResultName(code int16) string {
	switch code {
	case XAOk:
		return "XA_OK"
	case XARdOnly:
		return "XA_RDONLY"
	case XARbRollback:
		return "XA_RBROLLBACK"
	case XARbTimeout:
		return "XA_RBTIMEOUT"
	case XAErRmErr:
		return "XAER_RMERR"
	case XAErNoTA:
		return "XAER_NOTA"
	case XAErInval:
		return "XAER_INVAL"
	case XAErProto:
		return "XAER_PROTO"
	case XAErDupID:
		return "XAER_DUPID"
	}
	return fmt.Sprintf("XA(%d)", code)
}

// Xid identifies a distributed transaction branch.
type Xid struct {
	Format   uint32
	GlobalID []byte
	BranchID []byte
}

// Key is a stable map key for the xid.
func (x Xid) Key() string {
	return fmt.Sprintf("%d:%s:%s", x.Format, hex.EncodeToString(x.GlobalID), hex.EncodeToString(x.BranchID))
}

func (x Xid) String() string { return x.Key() }

// Bytes returns the xid in its wire layout.
func (x Xid) Bytes() ([]byte, error) {
	w := NewArgWriter()
	x.write(w)
	return w.Bytes(), w.Err()
}

// ParseXid decodes an xid produced by Bytes.
func ParseXid(b []byte) (Xid, error) {
	r := NewArgReader(b)
	x := readXid(r)
	if r.Err() != nil {
		return Xid{}, fmt.Errorf("parsing xid: %w", r.Err())
	}
	return x, nil
}

func readXid(r *ArgReader) Xid {
	var x Xid
	x.Format = r.Long()
	x.GlobalID = []byte(r.ShortStr())
	x.BranchID = []byte(r.ShortStr())
	return x
}

func (x Xid) write(w *ArgWriter) {
	w.Long(x.Format)
	w.ShortStr(string(x.GlobalID))
	w.ShortStr(string(x.BranchID))
}

type DtxSelect struct{}

func (*DtxSelect) ClassID() uint16    { return ClassDtx }
func (*DtxSelect) MethodID() uint16   { return MethodDtxSelect }
func (*DtxSelect) Read(r *ArgReader)  {}
func (*DtxSelect) Write(w *ArgWriter) {}

type DtxSelectOk struct{}

func (*DtxSelectOk) ClassID() uint16    { return ClassDtx }
func (*DtxSelectOk) MethodID() uint16   { return MethodDtxSelectOk }
func (*DtxSelectOk) Read(r *ArgReader)  {}
func (*DtxSelectOk) Write(w *ArgWriter) {}

type DtxStart struct {
	Xid    Xid
	Join   bool
	Resume bool
}

func (*DtxStart) ClassID() uint16  { return ClassDtx }
func (*DtxStart) MethodID() uint16 { return MethodDtxStart }
func (m *DtxStart) Read(r *ArgReader) {
	m.Xid = readXid(r)
	m.Join = r.Bit()
	m.Resume = r.Bit()
}
func (m *DtxStart) Write(w *ArgWriter) {
	m.Xid.write(w)
	w.Bit(m.Join)
	w.Bit(m.Resume)
}

type DtxEnd struct {
	Xid     Xid
	Fail    bool
	Suspend bool
}

func (*DtxEnd) ClassID() uint16  { return ClassDtx }
func (*DtxEnd) MethodID() uint16 { return MethodDtxEnd }
func (m *DtxEnd) Read(r *ArgReader) {
	m.Xid = readXid(r)
	m.Fail = r.Bit()
	m.Suspend = r.Bit()
}
func (m *DtxEnd) Write(w *ArgWriter) {
	m.Xid.write(w)
	w.Bit(m.Fail)
	w.Bit(m.Suspend)
}

type DtxCommit struct {
	Xid      Xid
	OnePhase bool
}

func (*DtxCommit) ClassID() uint16  { return ClassDtx }
func (*DtxCommit) MethodID() uint16 { return MethodDtxCommit }
func (m *DtxCommit) Read(r *ArgReader) {
	m.Xid = readXid(r)
	m.OnePhase = r.Bit()
}
func (m *DtxCommit) Write(w *ArgWriter) {
	m.Xid.write(w)
	w.Bit(m.OnePhase)
}

type DtxForget struct{ Xid Xid }

func (*DtxForget) ClassID() uint16      { return ClassDtx }
func (*DtxForget) MethodID() uint16     { return MethodDtxForget }
func (m *DtxForget) Read(r *ArgReader)  { m.Xid = readXid(r) }
func (m *DtxForget) Write(w *ArgWriter) { m.Xid.write(w) }

type DtxGetTimeout struct{ Xid Xid }

func (*DtxGetTimeout) ClassID() uint16      { return ClassDtx }
func (*DtxGetTimeout) MethodID() uint16     { return MethodDtxGetTimeout }
func (m *DtxGetTimeout) Read(r *ArgReader)  { m.Xid = readXid(r) }
func (m *DtxGetTimeout) Write(w *ArgWriter) { m.Xid.write(w) }

type DtxGetTimeoutOk struct{ Timeout uint32 }

func (*DtxGetTimeoutOk) ClassID() uint16      { return ClassDtx }
func (*DtxGetTimeoutOk) MethodID() uint16     { return MethodDtxGetTimeoutOk }
func (m *DtxGetTimeoutOk) Read(r *ArgReader)  { m.Timeout = r.Long() }
func (m *DtxGetTimeoutOk) Write(w *ArgWriter) { w.Long(m.Timeout) }

type DtxPrepare struct{ Xid Xid }

func (*DtxPrepare) ClassID() uint16      { return ClassDtx }
func (*DtxPrepare) MethodID() uint16     { return MethodDtxPrepare }
func (m *DtxPrepare) Read(r *ArgReader)  { m.Xid = readXid(r) }
func (m *DtxPrepare) Write(w *ArgWriter) { m.Xid.write(w) }

type DtxRecover struct{}

func (*DtxRecover) ClassID() uint16    { return ClassDtx }
func (*DtxRecover) MethodID() uint16   { return MethodDtxRecover }
func (*DtxRecover) Read(r *ArgReader)  {}
func (*DtxRecover) Write(w *ArgWriter) {}

// DtxRecoverOk lists the prepared (in-doubt) branches.
type DtxRecoverOk struct{ InDoubt []Xid }

func (*DtxRecoverOk) ClassID() uint16  { return ClassDtx }
func (*DtxRecoverOk) MethodID() uint16 { return MethodDtxRecoverOk }
func (m *DtxRecoverOk) Read(r *ArgReader) {
	m.InDoubt = nil
	for _, item := range r.Array() {
		raw, ok := item.([]byte)
		if !ok {
			r.fail("in-doubt entry is %T, want byte array", item)
			return
		}
		x, err := ParseXid(raw)
		if err != nil {
			r.fail("%w", err)
			return
		}
		m.InDoubt = append(m.InDoubt, x)
	}
}
func (m *DtxRecoverOk) Write(w *ArgWriter) {
	items := make([]any, 0, len(m.InDoubt))
	for _, x := range m.InDoubt {
		b, err := x.Bytes()
		if err != nil {
			if w.err == nil {
				w.err = err
			}
			return
		}
		items = append(items, b)
	}
	w.Array(items)
}

type DtxRollback struct{ Xid Xid }

func (*DtxRollback) ClassID() uint16      { return ClassDtx }
func (*DtxRollback) MethodID() uint16     { return MethodDtxRollback }
func (m *DtxRollback) Read(r *ArgReader)  { m.Xid = readXid(r) }
func (m *DtxRollback) Write(w *ArgWriter) { m.Xid.write(w) }

type DtxSetTimeout struct {
	Xid     Xid
	Timeout uint32
}

func (*DtxSetTimeout) ClassID() uint16  { return ClassDtx }
func (*DtxSetTimeout) MethodID() uint16 { return MethodDtxSetTimeout }
func (m *DtxSetTimeout) Read(r *ArgReader) {
	m.Xid = readXid(r)
	m.Timeout = r.Long()
}
func (m *DtxSetTimeout) Write(w *ArgWriter) {
	m.Xid.write(w)
	w.Long(m.Timeout)
}

type DtxSetTimeoutOk struct{}

func (*DtxSetTimeoutOk) ClassID() uint16    { return ClassDtx }
func (*DtxSetTimeoutOk) MethodID() uint16   { return MethodDtxSetTimeoutOk }
func (*DtxSetTimeoutOk) Read(r *ArgReader)  {}
func (*DtxSetTimeoutOk) Write(w *ArgWriter) {}

// DtxResult is the xa-result reply shared by start/end/commit/forget/prepare/rollback.
type DtxResult struct {
	Method uint16
	Status int16
}

func (*DtxResult) ClassID() uint16      { return ClassDtx }
func (m *DtxResult) MethodID() uint16   { return m.Method }
func (m *DtxResult) Read(r *ArgReader)  { m.Status = int16(r.Short()) }
func (m *DtxResult) Write(w *ArgWriter) { w.Short(uint16(m.Status)) }
