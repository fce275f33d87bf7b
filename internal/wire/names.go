package wire

import "fmt"

var classNames = map[uint16]string{
	ClassConnection: "connection",
	ClassChannel:    "channel",
	ClassExchange:   "exchange",
	ClassQueue:      "queue",
	ClassBasic:      "basic",
	ClassConfirm:    "confirm",
	ClassTx:         "tx",
	ClassDtx:        "dtx",
}

var methodNames = map[methodKey]string{
	{ClassConnection, MethodConnectionStart}:    "start",
	{ClassConnection, MethodConnectionStartOk}:  "start-ok",
	{ClassConnection, MethodConnectionSecure}:   "secure",
	{ClassConnection, MethodConnectionSecureOk}: "secure-ok",
	{ClassConnection, MethodConnectionTune}:     "tune",
	{ClassConnection, MethodConnectionTuneOk}:   "tune-ok",
	{ClassConnection, MethodConnectionOpen}:     "open",
	{ClassConnection, MethodConnectionOpenOk}:   "open-ok",
	{ClassConnection, MethodConnectionClose}:    "close",
	{ClassConnection, MethodConnectionCloseOk}:  "close-ok",

	{ClassChannel, MethodChannelOpen}:    "open",
	{ClassChannel, MethodChannelOpenOk}:  "open-ok",
	{ClassChannel, MethodChannelFlow}:    "flow",
	{ClassChannel, MethodChannelFlowOk}:  "flow-ok",
	{ClassChannel, MethodChannelClose}:   "close",
	{ClassChannel, MethodChannelCloseOk}: "close-ok",

	{ClassExchange, MethodExchangeDeclare}:   "declare",
	{ClassExchange, MethodExchangeDeclareOk}: "declare-ok",
	{ClassExchange, MethodExchangeDelete}:    "delete",
	{ClassExchange, MethodExchangeDeleteOk}:  "delete-ok",

	{ClassQueue, MethodQueueDeclare}:   "declare",
	{ClassQueue, MethodQueueDeclareOk}: "declare-ok",
	{ClassQueue, MethodQueueBind}:      "bind",
	{ClassQueue, MethodQueueBindOk}:    "bind-ok",
	{ClassQueue, MethodQueuePurge}:     "purge",
	{ClassQueue, MethodQueuePurgeOk}:   "purge-ok",
	{ClassQueue, MethodQueueDelete}:    "delete",
	{ClassQueue, MethodQueueDeleteOk}:  "delete-ok",
	{ClassQueue, MethodQueueUnbind}:    "unbind",
	{ClassQueue, MethodQueueUnbindOk}:  "unbind-ok",

	{ClassBasic, MethodBasicQos}:          "qos",
	{ClassBasic, MethodBasicQosOk}:        "qos-ok",
	{ClassBasic, MethodBasicConsume}:      "consume",
	{ClassBasic, MethodBasicConsumeOk}:    "consume-ok",
	{ClassBasic, MethodBasicCancel}:       "cancel",
	{ClassBasic, MethodBasicCancelOk}:     "cancel-ok",
	{ClassBasic, MethodBasicPublish}:      "publish",
	{ClassBasic, MethodBasicReturn}:       "return",
	{ClassBasic, MethodBasicDeliver}:      "deliver",
	{ClassBasic, MethodBasicGet}:          "get",
	{ClassBasic, MethodBasicGetOk}:        "get-ok",
	{ClassBasic, MethodBasicGetEmpty}:     "get-empty",
	{ClassBasic, MethodBasicAck}:          "ack",
	{ClassBasic, MethodBasicReject}:       "reject",
	{ClassBasic, MethodBasicRecoverAsync}: "recover-async",
	{ClassBasic, MethodBasicRecover}:      "recover",
	{ClassBasic, MethodBasicRecoverOk}:    "recover-ok",
	{ClassBasic, MethodBasicNack}:         "nack",

	{ClassConfirm, MethodConfirmSelect}:   "select",
	{ClassConfirm, MethodConfirmSelectOk}: "select-ok",

	{ClassTx, MethodTxSelect}:     "select",
	{ClassTx, MethodTxSelectOk}:   "select-ok",
	{ClassTx, MethodTxCommit}:     "commit",
	{ClassTx, MethodTxCommitOk}:   "commit-ok",
	{ClassTx, MethodTxRollback}:   "rollback",
	{ClassTx, MethodTxRollbackOk}: "rollback-ok",

	{ClassDtx, MethodDtxSelect}:       "select",
	{ClassDtx, MethodDtxSelectOk}:     "select-ok",
	{ClassDtx, MethodDtxStart}:        "start",
	{ClassDtx, MethodDtxStartOk}:      "start-ok",
	{ClassDtx, MethodDtxEnd}:          "end",
	{ClassDtx, MethodDtxEndOk}:        "end-ok",
	{ClassDtx, MethodDtxCommit}:       "commit",
	{ClassDtx, MethodDtxCommitOk}:     "commit-ok",
	{ClassDtx, MethodDtxForget}:       "forget",
	{ClassDtx, MethodDtxForgetOk}:     "forget-ok",
	{ClassDtx, MethodDtxGetTimeout}:   "get-timeout",
	{ClassDtx, MethodDtxGetTimeoutOk}: "get-timeout-ok",
	{ClassDtx, MethodDtxPrepare}:      "prepare",
	{ClassDtx, MethodDtxPrepareOk}:    "prepare-ok",
	{ClassDtx, MethodDtxRecover}:      "recover",
	{ClassDtx, MethodDtxRecoverOk}:    "recover-ok",
	{ClassDtx, MethodDtxRollback}:     "rollback",
	{ClassDtx, MethodDtxRollbackOk}:   "rollback-ok",
	{ClassDtx, MethodDtxSetTimeout}:   "set-timeout",
	{ClassDtx, MethodDtxSetTimeoutOk}: "set-timeout-ok",
}

// ClassName returns the protocol name of a class.
func ClassName(classID uint16) string {
	if n, ok := classNames[classID]; ok {
		return n
	}
	return fmt.Sprintf("class(%d)", classID)
}

// MethodName renders "class.method", e.g. "basic.publish".
func MethodName(classID, methodID uint16) string {
	if n, ok := methodNames[methodKey{classID, methodID}]; ok {
		return ClassName(classID) + "." + n
	}
	return fmt.Sprintf("%s.method(%d)", ClassName(classID), methodID)
}

// Name of a decoded method.
func Name(m Method) string {
	return MethodName(m.ClassID(), m.MethodID())
}
