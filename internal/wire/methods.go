package wire

// Class IDs
const (
	ClassConnection = 10
	ClassChannel    = 20
	ClassExchange   = 40
	ClassQueue      = 50
	ClassBasic      = 60
	ClassConfirm    = 85
	ClassTx         = 90
	ClassDtx        = 100
)

// Connection methods
const (
	MethodConnectionStart    = 10
	MethodConnectionStartOk  = 11
	MethodConnectionSecure   = 20
	MethodConnectionSecureOk = 21
	MethodConnectionTune     = 30
	MethodConnectionTuneOk   = 31
	MethodConnectionOpen     = 40
	MethodConnectionOpenOk   = 41
	MethodConnectionClose    = 50
	MethodConnectionCloseOk  = 51
)

// Channel methods
const (
	MethodChannelOpen    = 10
	MethodChannelOpenOk  = 11
	MethodChannelFlow    = 20
	MethodChannelFlowOk  = 21
	MethodChannelClose   = 40
	MethodChannelCloseOk = 41
)

// Exchange methods
const (
	MethodExchangeDeclare   = 10
	MethodExchangeDeclareOk = 11
	MethodExchangeDelete    = 20
	MethodExchangeDeleteOk  = 21
)

// Queue methods
const (
	MethodQueueDeclare   = 10
	MethodQueueDeclareOk = 11
	MethodQueueBind      = 20
	MethodQueueBindOk    = 21
	MethodQueuePurge     = 30
	MethodQueuePurgeOk   = 31
	MethodQueueDelete    = 40
	MethodQueueDeleteOk  = 41
	MethodQueueUnbind    = 50
	MethodQueueUnbindOk  = 51
)

// Basic methods
const (
	MethodBasicQos          = 10
	MethodBasicQosOk        = 11
	MethodBasicConsume      = 20
	MethodBasicConsumeOk    = 21
	MethodBasicCancel       = 30
	MethodBasicCancelOk     = 31
	MethodBasicPublish      = 40
	MethodBasicReturn       = 50
	MethodBasicDeliver      = 60
	MethodBasicGet          = 70
	MethodBasicGetOk        = 71
	MethodBasicGetEmpty     = 72
	MethodBasicAck          = 80
	MethodBasicReject       = 90
	MethodBasicRecoverAsync = 100
	MethodBasicRecover      = 110
	MethodBasicRecoverOk    = 111
	MethodBasicNack         = 120
)

// Confirm and Tx methods
const (
	MethodConfirmSelect   = 10
	MethodConfirmSelectOk = 11

	MethodTxSelect     = 10
	MethodTxSelectOk   = 11
	MethodTxCommit     = 20
	MethodTxCommitOk   = 21
	MethodTxRollback   = 30
	MethodTxRollbackOk = 31
)

// Dtx methods
const (
	MethodDtxSelect       = 10
	MethodDtxSelectOk     = 11
	MethodDtxStart        = 20
	MethodDtxStartOk      = 21
	MethodDtxEnd          = 30
	MethodDtxEndOk        = 31
	MethodDtxCommit       = 40
	MethodDtxCommitOk     = 41
	MethodDtxForget       = 50
	MethodDtxForgetOk     = 51
	MethodDtxGetTimeout   = 60
	MethodDtxGetTimeoutOk = 61
	MethodDtxPrepare      = 70
	MethodDtxPrepareOk    = 71
	MethodDtxRecover      = 80
	MethodDtxRecoverOk    = 81
	MethodDtxRollback     = 90
	MethodDtxRollbackOk   = 91
	MethodDtxSetTimeout   = 100
	MethodDtxSetTimeoutOk = 101
)

// Method is a decoded protocol operation with a fixed argument layout.
type Method interface {
	ClassID() uint16
	MethodID() uint16
	Read(r *ArgReader)
	Write(w *ArgWriter)
}

// HasContent reports whether header and body frames follow the method.
func HasContent(m Method) bool {
	switch m.(type) {
	case *BasicPublish, *BasicReturn, *BasicDeliver, *BasicGetOk:
		return true
	}
	return false
}

// EncodeMethod returns a method frame payload.
func EncodeMethod(m Method) ([]byte, error) {
	w := NewArgWriter()
	w.Short(m.ClassID())
	w.Short(m.MethodID())
	m.Write(w)
	return w.Bytes(), w.Err()
}

// --- connection ---

type ConnectionStart struct {
	VersionMajor     uint8
	VersionMinor     uint8
	ServerProperties Table
	Mechanisms       []byte
	Locales          []byte
}

func (*ConnectionStart) ClassID() uint16  { return ClassConnection }
func (*ConnectionStart) MethodID() uint16 { return MethodConnectionStart }
func (m *ConnectionStart) Read(r *ArgReader) {
	m.VersionMajor = r.Octet()
	m.VersionMinor = r.Octet()
	m.ServerProperties = r.Table()
	m.Mechanisms = r.LongStr()
	m.Locales = r.LongStr()
}
func (m *ConnectionStart) Write(w *ArgWriter) {
	w.Octet(m.VersionMajor)
	w.Octet(m.VersionMinor)
	w.Table(m.ServerProperties)
	w.LongStr(m.Mechanisms)
	w.LongStr(m.Locales)
}

type ConnectionStartOk struct {
	ClientProperties Table
	Mechanism        string
	Response         []byte
	Locale           string
}

func (*ConnectionStartOk) ClassID() uint16  { return ClassConnection }
func (*ConnectionStartOk) MethodID() uint16 { return MethodConnectionStartOk }
func (m *ConnectionStartOk) Read(r *ArgReader) {
	m.ClientProperties = r.Table()
	m.Mechanism = r.ShortStr()
	m.Response = r.LongStr()
	m.Locale = r.ShortStr()
}
func (m *ConnectionStartOk) Write(w *ArgWriter) {
	w.Table(m.ClientProperties)
	w.ShortStr(m.Mechanism)
	w.LongStr(m.Response)
	w.ShortStr(m.Locale)
}

type ConnectionSecure struct {
	Challenge []byte
}

func (*ConnectionSecure) ClassID() uint16      { return ClassConnection }
func (*ConnectionSecure) MethodID() uint16     { return MethodConnectionSecure }
func (m *ConnectionSecure) Read(r *ArgReader)  { m.Challenge = r.LongStr() }
func (m *ConnectionSecure) Write(w *ArgWriter) { w.LongStr(m.Challenge) }

type ConnectionSecureOk struct {
	Response []byte
}

func (*ConnectionSecureOk) ClassID() uint16      { return ClassConnection }
func (*ConnectionSecureOk) MethodID() uint16     { return MethodConnectionSecureOk }
func (m *ConnectionSecureOk) Read(r *ArgReader)  { m.Response = r.LongStr() }
func (m *ConnectionSecureOk) Write(w *ArgWriter) { w.LongStr(m.Response) }

type ConnectionTune struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

func (*ConnectionTune) ClassID() uint16  { return ClassConnection }
func (*ConnectionTune) MethodID() uint16 { return MethodConnectionTune }
func (m *ConnectionTune) Read(r *ArgReader) {
	m.ChannelMax = r.Short()
	m.FrameMax = r.Long()
	m.Heartbeat = r.Short()
}
func (m *ConnectionTune) Write(w *ArgWriter) {
	w.Short(m.ChannelMax)
	w.Long(m.FrameMax)
	w.Short(m.Heartbeat)
}

type ConnectionTuneOk struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

func (*ConnectionTuneOk) ClassID() uint16  { return ClassConnection }
func (*ConnectionTuneOk) MethodID() uint16 { return MethodConnectionTuneOk }
func (m *ConnectionTuneOk) Read(r *ArgReader) {
	m.ChannelMax = r.Short()
	m.FrameMax = r.Long()
	m.Heartbeat = r.Short()
}
func (m *ConnectionTuneOk) Write(w *ArgWriter) {
	w.Short(m.ChannelMax)
	w.Long(m.FrameMax)
	w.Short(m.Heartbeat)
}

type ConnectionOpen struct {
	VirtualHost  string
	Capabilities string
	Insist       bool
}

func (*ConnectionOpen) ClassID() uint16  { return ClassConnection }
func (*ConnectionOpen) MethodID() uint16 { return MethodConnectionOpen }
func (m *ConnectionOpen) Read(r *ArgReader) {
	m.VirtualHost = r.ShortStr()
	m.Capabilities = r.ShortStr()
	m.Insist = r.Bit()
}
func (m *ConnectionOpen) Write(w *ArgWriter) {
	w.ShortStr(m.VirtualHost)
	w.ShortStr(m.Capabilities)
	w.Bit(m.Insist)
}

type ConnectionOpenOk struct {
	KnownHosts string
}

func (*ConnectionOpenOk) ClassID() uint16      { return ClassConnection }
func (*ConnectionOpenOk) MethodID() uint16     { return MethodConnectionOpenOk }
func (m *ConnectionOpenOk) Read(r *ArgReader)  { m.KnownHosts = r.ShortStr() }
func (m *ConnectionOpenOk) Write(w *ArgWriter) { w.ShortStr(m.KnownHosts) }

type ConnectionClose struct {
	ReplyCode uint16
	ReplyText string
	ClassId   uint16
	MethodId  uint16
}

func (*ConnectionClose) ClassID() uint16  { return ClassConnection }
func (*ConnectionClose) MethodID() uint16 { return MethodConnectionClose }
func (m *ConnectionClose) Read(r *ArgReader) {
	m.ReplyCode = r.Short()
	m.ReplyText = r.ShortStr()
	m.ClassId = r.Short()
	m.MethodId = r.Short()
}
func (m *ConnectionClose) Write(w *ArgWriter) {
	w.Short(m.ReplyCode)
	w.ShortStr(m.ReplyText)
	w.Short(m.ClassId)
	w.Short(m.MethodId)
}

type ConnectionCloseOk struct{}

func (*ConnectionCloseOk) ClassID() uint16    { return ClassConnection }
func (*ConnectionCloseOk) MethodID() uint16   { return MethodConnectionCloseOk }
func (*ConnectionCloseOk) Read(r *ArgReader)  {}
func (*ConnectionCloseOk) Write(w *ArgWriter) {}

// --- channel ---

type ChannelOpen struct {
	OutOfBand string
}

func (*ChannelOpen) ClassID() uint16      { return ClassChannel }
func (*ChannelOpen) MethodID() uint16     { return MethodChannelOpen }
func (m *ChannelOpen) Read(r *ArgReader)  { m.OutOfBand = r.ShortStr() }
func (m *ChannelOpen) Write(w *ArgWriter) { w.ShortStr(m.OutOfBand) }

type ChannelOpenOk struct {
	ChannelID []byte
}

func (*ChannelOpenOk) ClassID() uint16      { return ClassChannel }
func (*ChannelOpenOk) MethodID() uint16     { return MethodChannelOpenOk }
func (m *ChannelOpenOk) Read(r *ArgReader)  { m.ChannelID = r.LongStr() }
func (m *ChannelOpenOk) Write(w *ArgWriter) { w.LongStr(m.ChannelID) }

type ChannelFlow struct {
	Active bool
}

func (*ChannelFlow) ClassID() uint16      { return ClassChannel }
func (*ChannelFlow) MethodID() uint16     { return MethodChannelFlow }
func (m *ChannelFlow) Read(r *ArgReader)  { m.Active = r.Bit() }
func (m *ChannelFlow) Write(w *ArgWriter) { w.Bit(m.Active) }

type ChannelFlowOk struct {
	Active bool
}

func (*ChannelFlowOk) ClassID() uint16      { return ClassChannel }
func (*ChannelFlowOk) MethodID() uint16     { return MethodChannelFlowOk }
func (m *ChannelFlowOk) Read(r *ArgReader)  { m.Active = r.Bit() }
func (m *ChannelFlowOk) Write(w *ArgWriter) { w.Bit(m.Active) }

type ChannelClose struct {
	ReplyCode uint16
	ReplyText string
	ClassId   uint16
	MethodId  uint16
}

func (*ChannelClose) ClassID() uint16  { return ClassChannel }
func (*ChannelClose) MethodID() uint16 { return MethodChannelClose }
func (m *ChannelClose) Read(r *ArgReader) {
	m.ReplyCode = r.Short()
	m.ReplyText = r.ShortStr()
	m.ClassId = r.Short()
	m.MethodId = r.Short()
}
func (m *ChannelClose) Write(w *ArgWriter) {
	w.Short(m.ReplyCode)
	w.ShortStr(m.ReplyText)
	w.Short(m.ClassId)
	w.Short(m.MethodId)
}

type ChannelCloseOk struct{}

func (*ChannelCloseOk) ClassID() uint16    { return ClassChannel }
func (*ChannelCloseOk) MethodID() uint16   { return MethodChannelCloseOk }
func (*ChannelCloseOk) Read(r *ArgReader)  {}
func (*ChannelCloseOk) Write(w *ArgWriter) {}

// --- exchange ---

type ExchangeDeclare struct {
	Ticket     uint16
	Exchange   string
	Type       string
	Passive    bool
	Durable    bool
	AutoDelete bool
	Internal   bool
	NoWait     bool
	Arguments  Table
}

func (*ExchangeDeclare) ClassID() uint16  { return ClassExchange }
func (*ExchangeDeclare) MethodID() uint16 { return MethodExchangeDeclare }
func (m *ExchangeDeclare) Read(r *ArgReader) {
	m.Ticket = r.Short()
	m.Exchange = r.ShortStr()
	m.Type = r.ShortStr()
	m.Passive = r.Bit()
	m.Durable = r.Bit()
	m.AutoDelete = r.Bit()
	m.Internal = r.Bit()
	m.NoWait = r.Bit()
	m.Arguments = r.Table()
}
func (m *ExchangeDeclare) Write(w *ArgWriter) {
	w.Short(m.Ticket)
	w.ShortStr(m.Exchange)
	w.ShortStr(m.Type)
	w.Bit(m.Passive)
	w.Bit(m.Durable)
	w.Bit(m.AutoDelete)
	w.Bit(m.Internal)
	w.Bit(m.NoWait)
	w.Table(m.Arguments)
}

type ExchangeDeclareOk struct{}

func (*ExchangeDeclareOk) ClassID() uint16    { return ClassExchange }
func (*ExchangeDeclareOk) MethodID() uint16   { return MethodExchangeDeclareOk }
func (*ExchangeDeclareOk) Read(r *ArgReader)  {}
func (*ExchangeDeclareOk) Write(w *ArgWriter) {}

type ExchangeDelete struct {
	Ticket   uint16
	Exchange string
	IfUnused bool
	NoWait   bool
}

func (*ExchangeDelete) ClassID() uint16  { return ClassExchange }
func (*ExchangeDelete) MethodID() uint16 { return MethodExchangeDelete }
func (m *ExchangeDelete) Read(r *ArgReader) {
	m.Ticket = r.Short()
	m.Exchange = r.ShortStr()
	m.IfUnused = r.Bit()
	m.NoWait = r.Bit()
}
func (m *ExchangeDelete) Write(w *ArgWriter) {
	w.Short(m.Ticket)
	w.ShortStr(m.Exchange)
	w.Bit(m.IfUnused)
	w.Bit(m.NoWait)
}

type ExchangeDeleteOk struct{}

func (*ExchangeDeleteOk) ClassID() uint16    { return ClassExchange }
func (*ExchangeDeleteOk) MethodID() uint16   { return MethodExchangeDeleteOk }
func (*ExchangeDeleteOk) Read(r *ArgReader)  {}
func (*ExchangeDeleteOk) Write(w *ArgWriter) {}

// --- queue ---

type QueueDeclare struct {
	Ticket     uint16
	Queue      string
	Passive    bool
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	NoWait     bool
	Arguments  Table
}

func (*QueueDeclare) ClassID() uint16  { return ClassQueue }
func (*QueueDeclare) MethodID() uint16 { return MethodQueueDeclare }
func (m *QueueDeclare) Read(r *ArgReader) {
	m.Ticket = r.Short()
	m.Queue = r.ShortStr()
	m.Passive = r.Bit()
	m.Durable = r.Bit()
	m.Exclusive = r.Bit()
	m.AutoDelete = r.Bit()
	m.NoWait = r.Bit()
	m.Arguments = r.Table()
}
func (m *QueueDeclare) Write(w *ArgWriter) {
	w.Short(m.Ticket)
	w.ShortStr(m.Queue)
	w.Bit(m.Passive)
	w.Bit(m.Durable)
	w.Bit(m.Exclusive)
	w.Bit(m.AutoDelete)
	w.Bit(m.NoWait)
	w.Table(m.Arguments)
}

type QueueDeclareOk struct {
	Queue         string
	MessageCount  uint32
	ConsumerCount uint32
}

func (*QueueDeclareOk) ClassID() uint16  { return ClassQueue }
func (*QueueDeclareOk) MethodID() uint16 { return MethodQueueDeclareOk }
func (m *QueueDeclareOk) Read(r *ArgReader) {
	m.Queue = r.ShortStr()
	m.MessageCount = r.Long()
	m.ConsumerCount = r.Long()
}
func (m *QueueDeclareOk) Write(w *ArgWriter) {
	w.ShortStr(m.Queue)
	w.Long(m.MessageCount)
	w.Long(m.ConsumerCount)
}

type QueueBind struct {
	Ticket     uint16
	Queue      string
	Exchange   string
	RoutingKey string
	NoWait     bool
	Arguments  Table
}

func (*QueueBind) ClassID() uint16  { return ClassQueue }
func (*QueueBind) MethodID() uint16 { return MethodQueueBind }
func (m *QueueBind) Read(r *ArgReader) {
	m.Ticket = r.Short()
	m.Queue = r.ShortStr()
	m.Exchange = r.ShortStr()
	m.RoutingKey = r.ShortStr()
	m.NoWait = r.Bit()
	m.Arguments = r.Table()
}
func (m *QueueBind) Write(w *ArgWriter) {
	w.Short(m.Ticket)
	w.ShortStr(m.Queue)
	w.ShortStr(m.Exchange)
	w.ShortStr(m.RoutingKey)
	w.Bit(m.NoWait)
	w.Table(m.Arguments)
}

type QueueBindOk struct{}

func (*QueueBindOk) ClassID() uint16    { return ClassQueue }
func (*QueueBindOk) MethodID() uint16   { return MethodQueueBindOk }
func (*QueueBindOk) Read(r *ArgReader)  {}
func (*QueueBindOk) Write(w *ArgWriter) {}

type QueuePurge struct {
	Ticket uint16
	Queue  string
	NoWait bool
}

func (*QueuePurge) ClassID() uint16  { return ClassQueue }
func (*QueuePurge) MethodID() uint16 { return MethodQueuePurge }
func (m *QueuePurge) Read(r *ArgReader) {
	m.Ticket = r.Short()
	m.Queue = r.ShortStr()
	m.NoWait = r.Bit()
}
func (m *QueuePurge) Write(w *ArgWriter) {
	w.Short(m.Ticket)
	w.ShortStr(m.Queue)
	w.Bit(m.NoWait)
}

type QueuePurgeOk struct {
	MessageCount uint32
}

func (*QueuePurgeOk) ClassID() uint16      { return ClassQueue }
func (*QueuePurgeOk) MethodID() uint16     { return MethodQueuePurgeOk }
func (m *QueuePurgeOk) Read(r *ArgReader)  { m.MessageCount = r.Long() }
func (m *QueuePurgeOk) Write(w *ArgWriter) { w.Long(m.MessageCount) }

type QueueDelete struct {
	Ticket   uint16
	Queue    string
	IfUnused bool
	IfEmpty  bool
	NoWait   bool
}

func (*QueueDelete) ClassID() uint16  { return ClassQueue }
func (*QueueDelete) MethodID() uint16 { return MethodQueueDelete }
func (m *QueueDelete) Read(r *ArgReader) {
	m.Ticket = r.Short()
	m.Queue = r.ShortStr()
	m.IfUnused = r.Bit()
	m.IfEmpty = r.Bit()
	m.NoWait = r.Bit()
}
func (m *QueueDelete) Write(w *ArgWriter) {
	w.Short(m.Ticket)
	w.ShortStr(m.Queue)
	w.Bit(m.IfUnused)
	w.Bit(m.IfEmpty)
	w.Bit(m.NoWait)
}

type QueueDeleteOk struct {
	MessageCount uint32
}

func (*QueueDeleteOk) ClassID() uint16      { return ClassQueue }
func (*QueueDeleteOk) MethodID() uint16     { return MethodQueueDeleteOk }
func (m *QueueDeleteOk) Read(r *ArgReader)  { m.MessageCount = r.Long() }
func (m *QueueDeleteOk) Write(w *ArgWriter) { w.Long(m.MessageCount) }

type QueueUnbind struct {
	Ticket     uint16
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  Table
}

func (*QueueUnbind) ClassID() uint16  { return ClassQueue }
func (*QueueUnbind) MethodID() uint16 { return MethodQueueUnbind }
func (m *QueueUnbind) Read(r *ArgReader) {
	m.Ticket = r.Short()
	m.Queue = r.ShortStr()
	m.Exchange = r.ShortStr()
	m.RoutingKey = r.ShortStr()
	m.Arguments = r.Table()
}
func (m *QueueUnbind) Write(w *ArgWriter) {
	w.Short(m.Ticket)
	w.ShortStr(m.Queue)
	w.ShortStr(m.Exchange)
	w.ShortStr(m.RoutingKey)
	w.Table(m.Arguments)
}

type QueueUnbindOk struct{}

func (*QueueUnbindOk) ClassID() uint16    { return ClassQueue }
func (*QueueUnbindOk) MethodID() uint16   { return MethodQueueUnbindOk }
func (*QueueUnbindOk) Read(r *ArgReader)  {}
func (*QueueUnbindOk) Write(w *ArgWriter) {}
