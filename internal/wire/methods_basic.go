package wire

type BasicQos struct {
	PrefetchSize  uint32
	PrefetchCount uint16
	Global        bool
}

func (*BasicQos) ClassID() uint16  { return ClassBasic }
func (*BasicQos) MethodID() uint16 { return MethodBasicQos }
func (m *BasicQos) Read(r *ArgReader) {
	m.PrefetchSize = r.Long()
	m.PrefetchCount = r.Short()
	m.Global = r.Bit()
}
func (m *BasicQos) Write(w *ArgWriter) {
	w.Long(m.PrefetchSize)
	w.Short(m.PrefetchCount)
	w.Bit(m.Global)
}

type BasicQosOk struct{}

func (*BasicQosOk) ClassID() uint16    { return ClassBasic }
func (*BasicQosOk) MethodID() uint16   { return MethodBasicQosOk }
func (*BasicQosOk) Read(r *ArgReader)  {}
func (*BasicQosOk) Write(w *ArgWriter) {}

type BasicConsume struct {
	Ticket      uint16
	Queue       string
	ConsumerTag string
	NoLocal     bool
	NoAck       bool
	Exclusive   bool
	NoWait      bool
	Arguments   Table
}

func (*BasicConsume) ClassID() uint16  { return ClassBasic }
func (*BasicConsume) MethodID() uint16 { return MethodBasicConsume }
func (m *BasicConsume) Read(r *ArgReader) {
	m.Ticket = r.Short()
	m.Queue = r.ShortStr()
	m.ConsumerTag = r.ShortStr()
	m.NoLocal = r.Bit()
	m.NoAck = r.Bit()
	m.Exclusive = r.Bit()
	m.NoWait = r.Bit()
	m.Arguments = r.Table()
}
func (m *BasicConsume) Write(w *ArgWriter) {
	w.Short(m.Ticket)
	w.ShortStr(m.Queue)
	w.ShortStr(m.ConsumerTag)
	w.Bit(m.NoLocal)
	w.Bit(m.NoAck)
	w.Bit(m.Exclusive)
	w.Bit(m.NoWait)
	w.Table(m.Arguments)
}

type BasicConsumeOk struct {
	ConsumerTag string
}

func (*BasicConsumeOk) ClassID() uint16      { return ClassBasic }
func (*BasicConsumeOk) MethodID() uint16     { return MethodBasicConsumeOk }
func (m *BasicConsumeOk) Read(r *ArgReader)  { m.ConsumerTag = r.ShortStr() }
func (m *BasicConsumeOk) Write(w *ArgWriter) { w.ShortStr(m.ConsumerTag) }

type BasicCancel struct {
	ConsumerTag string
	NoWait      bool
}

func (*BasicCancel) ClassID() uint16  { return ClassBasic }
func (*BasicCancel) MethodID() uint16 { return MethodBasicCancel }
func (m *BasicCancel) Read(r *ArgReader) {
	m.ConsumerTag = r.ShortStr()
	m.NoWait = r.Bit()
}
func (m *BasicCancel) Write(w *ArgWriter) {
	w.ShortStr(m.ConsumerTag)
	w.Bit(m.NoWait)
}

type BasicCancelOk struct {
	ConsumerTag string
}

func (*BasicCancelOk) ClassID() uint16      { return ClassBasic }
func (*BasicCancelOk) MethodID() uint16     { return MethodBasicCancelOk }
func (m *BasicCancelOk) Read(r *ArgReader)  { m.ConsumerTag = r.ShortStr() }
func (m *BasicCancelOk) Write(w *ArgWriter) { w.ShortStr(m.ConsumerTag) }

type BasicPublish struct {
	Ticket     uint16
	Exchange   string
	RoutingKey string
	Mandatory  bool
	Immediate  bool
}

func (*BasicPublish) ClassID() uint16  { return ClassBasic }
func (*BasicPublish) MethodID() uint16 { return MethodBasicPublish }
func (m *BasicPublish) Read(r *ArgReader) {
	m.Ticket = r.Short()
	m.Exchange = r.ShortStr()
	m.RoutingKey = r.ShortStr()
	m.Mandatory = r.Bit()
	m.Immediate = r.Bit()
}
func (m *BasicPublish) Write(w *ArgWriter) {
	w.Short(m.Ticket)
	w.ShortStr(m.Exchange)
	w.ShortStr(m.RoutingKey)
	w.Bit(m.Mandatory)
	w.Bit(m.Immediate)
}

type BasicReturn struct {
	ReplyCode  uint16
	ReplyText  string
	Exchange   string
	RoutingKey string
}

func (*BasicReturn) ClassID() uint16  { return ClassBasic }
func (*BasicReturn) MethodID() uint16 { return MethodBasicReturn }
func (m *BasicReturn) Read(r *ArgReader) {
	m.ReplyCode = r.Short()
	m.ReplyText = r.ShortStr()
	m.Exchange = r.ShortStr()
	m.RoutingKey = r.ShortStr()
}
func (m *BasicReturn) Write(w *ArgWriter) {
	w.Short(m.ReplyCode)
	w.ShortStr(m.ReplyText)
	w.ShortStr(m.Exchange)
	w.ShortStr(m.RoutingKey)
}

type BasicDeliver struct {
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string
}

func (*BasicDeliver) ClassID() uint16  { return ClassBasic }
func (*BasicDeliver) MethodID() uint16 { return MethodBasicDeliver }
func (m *BasicDeliver) Read(r *ArgReader) {
	m.ConsumerTag = r.ShortStr()
	m.DeliveryTag = r.LongLong()
	m.Redelivered = r.Bit()
	m.Exchange = r.ShortStr()
	m.RoutingKey = r.ShortStr()
}
func (m *BasicDeliver) Write(w *ArgWriter) {
	w.ShortStr(m.ConsumerTag)
	w.LongLong(m.DeliveryTag)
	w.Bit(m.Redelivered)
	w.ShortStr(m.Exchange)
	w.ShortStr(m.RoutingKey)
}

type BasicGet struct {
	Ticket uint16
	Queue  string
	NoAck  bool
}

func (*BasicGet) ClassID() uint16  { return ClassBasic }
func (*BasicGet) MethodID() uint16 { return MethodBasicGet }
func (m *BasicGet) Read(r *ArgReader) {
	m.Ticket = r.Short()
	m.Queue = r.ShortStr()
	m.NoAck = r.Bit()
}
func (m *BasicGet) Write(w *ArgWriter) {
	w.Short(m.Ticket)
	w.ShortStr(m.Queue)
	w.Bit(m.NoAck)
}

type BasicGetOk struct {
	DeliveryTag  uint64
	Redelivered  bool
	Exchange     string
	RoutingKey   string
	MessageCount uint32
}

func (*BasicGetOk) ClassID() uint16  { return ClassBasic }
func (*BasicGetOk) MethodID() uint16 { return MethodBasicGetOk }
func (m *BasicGetOk) Read(r *ArgReader) {
	m.DeliveryTag = r.LongLong()
	m.Redelivered = r.Bit()
	m.Exchange = r.ShortStr()
	m.RoutingKey = r.ShortStr()
	m.MessageCount = r.Long()
}
func (m *BasicGetOk) Write(w *ArgWriter) {
	w.LongLong(m.DeliveryTag)
	w.Bit(m.Redelivered)
	w.ShortStr(m.Exchange)
	w.ShortStr(m.RoutingKey)
	w.Long(m.MessageCount)
}

type BasicGetEmpty struct {
	ClusterID string
}

func (*BasicGetEmpty) ClassID() uint16      { return ClassBasic }
func (*BasicGetEmpty) MethodID() uint16     { return MethodBasicGetEmpty }
func (m *BasicGetEmpty) Read(r *ArgReader)  { m.ClusterID = r.ShortStr() }
func (m *BasicGetEmpty) Write(w *ArgWriter) { w.ShortStr(m.ClusterID) }

type BasicAck struct {
	DeliveryTag uint64
	Multiple    bool
}

func (*BasicAck) ClassID() uint16  { return ClassBasic }
func (*BasicAck) MethodID() uint16 { return MethodBasicAck }
func (m *BasicAck) Read(r *ArgReader) {
	m.DeliveryTag = r.LongLong()
	m.Multiple = r.Bit()
}
func (m *BasicAck) Write(w *ArgWriter) {
	w.LongLong(m.DeliveryTag)
	w.Bit(m.Multiple)
}

type BasicReject struct {
	DeliveryTag uint64
	Requeue     bool
}

func (*BasicReject) ClassID() uint16  { return ClassBasic }
func (*BasicReject) MethodID() uint16 { return MethodBasicReject }
func (m *BasicReject) Read(r *ArgReader) {
	m.DeliveryTag = r.LongLong()
	m.Requeue = r.Bit()
}
func (m *BasicReject) Write(w *ArgWriter) {
	w.LongLong(m.DeliveryTag)
	w.Bit(m.Requeue)
}

type BasicRecoverAsync struct {
	Requeue bool
}

func (*BasicRecoverAsync) ClassID() uint16      { return ClassBasic }
func (*BasicRecoverAsync) MethodID() uint16     { return MethodBasicRecoverAsync }
func (m *BasicRecoverAsync) Read(r *ArgReader)  { m.Requeue = r.Bit() }
func (m *BasicRecoverAsync) Write(w *ArgWriter) { w.Bit(m.Requeue) }

type BasicRecover struct {
	Requeue bool
}

func (*BasicRecover) ClassID() uint16      { return ClassBasic }
func (*BasicRecover) MethodID() uint16     { return MethodBasicRecover }
func (m *BasicRecover) Read(r *ArgReader)  { m.Requeue = r.Bit() }
func (m *BasicRecover) Write(w *ArgWriter) { w.Bit(m.Requeue) }

type BasicRecoverOk struct{}

func (*BasicRecoverOk) ClassID() uint16    { return ClassBasic }
func (*BasicRecoverOk) MethodID() uint16   { return MethodBasicRecoverOk }
func (*BasicRecoverOk) Read(r *ArgReader)  {}
func (*BasicRecoverOk) Write(w *ArgWriter) {}

type BasicNack struct {
	DeliveryTag uint64
	Multiple    bool
	Requeue     bool
}

func (*BasicNack) ClassID() uint16  { return ClassBasic }
func (*BasicNack) MethodID() uint16 { return MethodBasicNack }
func (m *BasicNack) Read(r *ArgReader) {
	m.DeliveryTag = r.LongLong()
	m.Multiple = r.Bit()
	m.Requeue = r.Bit()
}
func (m *BasicNack) Write(w *ArgWriter) {
	w.LongLong(m.DeliveryTag)
	w.Bit(m.Multiple)
	w.Bit(m.Requeue)
}

// --- confirm ---

type ConfirmSelect struct {
	NoWait bool
}

func (*ConfirmSelect) ClassID() uint16      { return ClassConfirm }
func (*ConfirmSelect) MethodID() uint16     { return MethodConfirmSelect }
func (m *ConfirmSelect) Read(r *ArgReader)  { m.NoWait = r.Bit() }
func (m *ConfirmSelect) Write(w *ArgWriter) { w.Bit(m.NoWait) }

type ConfirmSelectOk struct{}

func (*ConfirmSelectOk) ClassID() uint16    { return ClassConfirm }
func (*ConfirmSelectOk) MethodID() uint16   { return MethodConfirmSelectOk }
func (*ConfirmSelectOk) Read(r *ArgReader)  {}
func (*ConfirmSelectOk) Write(w *ArgWriter) {}

// --- tx ---

type TxSelect struct{}

func (*TxSelect) ClassID() uint16    { return ClassTx }
func (*TxSelect) MethodID() uint16   { return MethodTxSelect }
func (*TxSelect) Read(r *ArgReader)  {}
func (*TxSelect) Write(w *ArgWriter) {}

type TxSelectOk struct{}

func (*TxSelectOk) ClassID() uint16    { return ClassTx }
func (*TxSelectOk) MethodID() uint16   { return MethodTxSelectOk }
func (*TxSelectOk) Read(r *ArgReader)  {}
func (*TxSelectOk) Write(w *ArgWriter) {}

type TxCommit struct{}

func (*TxCommit) ClassID() uint16    { return ClassTx }
func (*TxCommit) MethodID() uint16   { return MethodTxCommit }
func (*TxCommit) Read(r *ArgReader)  {}
func (*TxCommit) Write(w *ArgWriter) {}

type TxCommitOk struct{}

func (*TxCommitOk) ClassID() uint16    { return ClassTx }
func (*TxCommitOk) MethodID() uint16   { return MethodTxCommitOk }
func (*TxCommitOk) Read(r *ArgReader)  {}
func (*TxCommitOk) Write(w *ArgWriter) {}

type TxRollback struct{}

func (*TxRollback) ClassID() uint16    { return ClassTx }
func (*TxRollback) MethodID() uint16   { return MethodTxRollback }
func (*TxRollback) Read(r *ArgReader)  {}
func (*TxRollback) Write(w *ArgWriter) {}

type TxRollbackOk struct{}

func (*TxRollbackOk) ClassID() uint16    { return ClassTx }
func (*TxRollbackOk) MethodID() uint16   { return MethodTxRollbackOk }
func (*TxRollbackOk) Read(r *ArgReader)  {}
func (*TxRollbackOk) Write(w *ArgWriter) {}
