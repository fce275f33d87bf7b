package wire

import (
	amqpError "github.com/aleybovich/carrot-broker/amqperror"
)

// Decoder turns method arguments into a typed method.
type Decoder func(r *ArgReader) (Method, error)

type methodKey struct {
	class  uint16
	method uint16
}

// Registry maps (class-id, method-id) to decoders. Each connection owns its
// own copy so handlers can rebind entries, e.g. for the negotiated auth
// mechanism, without affecting other connections.
type Registry struct {
	decoders map[methodKey]Decoder
}

func factory[T any, PT interface {
	*T
	Method
}]() Decoder {
	return func(r *ArgReader) (Method, error) {
		m := PT(new(T))
		m.Read(r)
		if err := r.Err(); err != nil {
			return nil, err
		}
		return m, nil
	}
}

func dtxResult(method uint16) Decoder {
	return func(r *ArgReader) (Method, error) {
		m := &DtxResult{Method: method}
		m.Read(r)
		if err := r.Err(); err != nil {
			return nil, err
		}
		return m, nil
	}
}

var defaultDecoders = map[methodKey]Decoder{
	{ClassConnection, MethodConnectionStart}:    factory[ConnectionStart](),
	{ClassConnection, MethodConnectionStartOk}:  factory[ConnectionStartOk](),
	{ClassConnection, MethodConnectionSecure}:   factory[ConnectionSecure](),
	{ClassConnection, MethodConnectionSecureOk}: factory[ConnectionSecureOk](),
	{ClassConnection, MethodConnectionTune}:     factory[ConnectionTune](),
	{ClassConnection, MethodConnectionTuneOk}:   factory[ConnectionTuneOk](),
	{ClassConnection, MethodConnectionOpen}:     factory[ConnectionOpen](),
	{ClassConnection, MethodConnectionOpenOk}:   factory[ConnectionOpenOk](),
	{ClassConnection, MethodConnectionClose}:    factory[ConnectionClose](),
	{ClassConnection, MethodConnectionCloseOk}:  factory[ConnectionCloseOk](),

	{ClassChannel, MethodChannelOpen}:    factory[ChannelOpen](),
	{ClassChannel, MethodChannelOpenOk}:  factory[ChannelOpenOk](),
	{ClassChannel, MethodChannelFlow}:    factory[ChannelFlow](),
	{ClassChannel, MethodChannelFlowOk}:  factory[ChannelFlowOk](),
	{ClassChannel, MethodChannelClose}:   factory[ChannelClose](),
	{ClassChannel, MethodChannelCloseOk}: factory[ChannelCloseOk](),

	{ClassExchange, MethodExchangeDeclare}:   factory[ExchangeDeclare](),
	{ClassExchange, MethodExchangeDeclareOk}: factory[ExchangeDeclareOk](),
	{ClassExchange, MethodExchangeDelete}:    factory[ExchangeDelete](),
	{ClassExchange, MethodExchangeDeleteOk}:  factory[ExchangeDeleteOk](),

	{ClassQueue, MethodQueueDeclare}:   factory[QueueDeclare](),
	{ClassQueue, MethodQueueDeclareOk}: factory[QueueDeclareOk](),
	{ClassQueue, MethodQueueBind}:      factory[QueueBind](),
	{ClassQueue, MethodQueueBindOk}:    factory[QueueBindOk](),
	{ClassQueue, MethodQueuePurge}:     factory[QueuePurge](),
	{ClassQueue, MethodQueuePurgeOk}:   factory[QueuePurgeOk](),
	{ClassQueue, MethodQueueDelete}:    factory[QueueDelete](),
	{ClassQueue, MethodQueueDeleteOk}:  factory[QueueDeleteOk](),
	{ClassQueue, MethodQueueUnbind}:    factory[QueueUnbind](),
	{ClassQueue, MethodQueueUnbindOk}:  factory[QueueUnbindOk](),

	{ClassBasic, MethodBasicQos}:          factory[BasicQos](),
	{ClassBasic, MethodBasicQosOk}:        factory[BasicQosOk](),
	{ClassBasic, MethodBasicConsume}:      factory[BasicConsume](),
	{ClassBasic, MethodBasicConsumeOk}:    factory[BasicConsumeOk](),
	{ClassBasic, MethodBasicCancel}:       factory[BasicCancel](),
	{ClassBasic, MethodBasicCancelOk}:     factory[BasicCancelOk](),
	{ClassBasic, MethodBasicPublish}:      factory[BasicPublish](),
	{ClassBasic, MethodBasicReturn}:       factory[BasicReturn](),
	{ClassBasic, MethodBasicDeliver}:      factory[BasicDeliver](),
	{ClassBasic, MethodBasicGet}:          factory[BasicGet](),
	{ClassBasic, MethodBasicGetOk}:        factory[BasicGetOk](),
	{ClassBasic, MethodBasicGetEmpty}:     factory[BasicGetEmpty](),
	{ClassBasic, MethodBasicAck}:          factory[BasicAck](),
	{ClassBasic, MethodBasicReject}:       factory[BasicReject](),
	{ClassBasic, MethodBasicRecoverAsync}: factory[BasicRecoverAsync](),
	{ClassBasic, MethodBasicRecover}:      factory[BasicRecover](),
	{ClassBasic, MethodBasicRecoverOk}:    factory[BasicRecoverOk](),
	{ClassBasic, MethodBasicNack}:         factory[BasicNack](),

	{ClassConfirm, MethodConfirmSelect}:   factory[ConfirmSelect](),
	{ClassConfirm, MethodConfirmSelectOk}: factory[ConfirmSelectOk](),

	{ClassTx, MethodTxSelect}:     factory[TxSelect](),
	{ClassTx, MethodTxSelectOk}:   factory[TxSelectOk](),
	{ClassTx, MethodTxCommit}:     factory[TxCommit](),
	{ClassTx, MethodTxCommitOk}:   factory[TxCommitOk](),
	{ClassTx, MethodTxRollback}:   factory[TxRollback](),
	{ClassTx, MethodTxRollbackOk}: factory[TxRollbackOk](),

	{ClassDtx, MethodDtxSelect}:       factory[DtxSelect](),
	{ClassDtx, MethodDtxSelectOk}:     factory[DtxSelectOk](),
	{ClassDtx, MethodDtxStart}:        factory[DtxStart](),
	{ClassDtx, MethodDtxStartOk}:      dtxResult(MethodDtxStartOk),
	{ClassDtx, MethodDtxEnd}:          factory[DtxEnd](),
	{ClassDtx, MethodDtxEndOk}:        dtxResult(MethodDtxEndOk),
	{ClassDtx, MethodDtxCommit}:       factory[DtxCommit](),
	{ClassDtx, MethodDtxCommitOk}:     dtxResult(MethodDtxCommitOk),
	{ClassDtx, MethodDtxForget}:       factory[DtxForget](),
	{ClassDtx, MethodDtxForgetOk}:     dtxResult(MethodDtxForgetOk),
	{ClassDtx, MethodDtxGetTimeout}:   factory[DtxGetTimeout](),
	{ClassDtx, MethodDtxGetTimeoutOk}: factory[DtxGetTimeoutOk](),
	{ClassDtx, MethodDtxPrepare}:      factory[DtxPrepare](),
	{ClassDtx, MethodDtxPrepareOk}:    dtxResult(MethodDtxPrepareOk),
	{ClassDtx, MethodDtxRecover}:      factory[DtxRecover](),
	{ClassDtx, MethodDtxRecoverOk}:    factory[DtxRecoverOk](),
	{ClassDtx, MethodDtxRollback}:     factory[DtxRollback](),
	{ClassDtx, MethodDtxRollbackOk}:   dtxResult(MethodDtxRollbackOk),
	{ClassDtx, MethodDtxSetTimeout}:   factory[DtxSetTimeout](),
	{ClassDtx, MethodDtxSetTimeoutOk}: factory[DtxSetTimeoutOk](),
}

// NewRegistry returns a registry holding every known method.
func NewRegistry() *Registry {
	r := &Registry{decoders: make(map[methodKey]Decoder, len(defaultDecoders))}
	for k, d := range defaultDecoders {
		r.decoders[k] = d
	}
	return r
}

// Bind installs or replaces the decoder for one method.
func (r *Registry) Bind(classID, methodID uint16, d Decoder) {
	r.decoders[methodKey{classID, methodID}] = d
}

// Lookup returns the decoder for a method.
func (r *Registry) Lookup(classID, methodID uint16) (Decoder, bool) {
	d, ok := r.decoders[methodKey{classID, methodID}]
	return d, ok
}

// Decode parses a method frame payload. Unknown ids fail with COMMAND_INVALID
// naming the pair, truncated arguments with FRAME_ERROR. Both are connection level.
func (r *Registry) Decode(payload []byte) (Method, error) {
	ar := NewArgReader(payload)
	classID := ar.Short()
	methodID := ar.Short()
	if ar.Err() != nil {
		return nil, amqpError.Hard(amqpError.FrameError, "method frame too short: %d bytes", len(payload))
	}
	d, ok := r.Lookup(classID, methodID)
	if !ok {
		return nil, amqpError.Hard(amqpError.CommandInvalid, "unknown method %d.%d", classID, methodID).
			At(classID, methodID)
	}
	m, err := d(ar)
	if err != nil {
		return nil, amqpError.Hard(amqpError.FrameError, "decoding %s: %v", MethodName(classID, methodID), err).
			At(classID, methodID)
	}
	return m, nil
}
