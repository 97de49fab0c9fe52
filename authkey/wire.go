package authkey

// Constructor identifiers for the handful of mtproto-layer types the
// authorization-key handshake speaks. These are Telegram's own wire
// constants, not something this client invents.
const (
	ctorReqPQMulti          uint32 = 0xbe7e8ef1
	ctorResPQ               uint32 = 0x05162463
	ctorPQInnerData         uint32 = 0x83c95aec
	ctorReqDHParams         uint32 = 0xd712e4be
	ctorServerDHParamsFail  uint32 = 0x79cb045d
	ctorServerDHParamsOK    uint32 = 0xd0e8075c
	ctorServerDHInnerData   uint32 = 0xb5890dba
	ctorClientDHInnerData   uint32 = 0x6643b654
	ctorSetClientDHParams   uint32 = 0xf5045f1f
	ctorDHGenOK             uint32 = 0x3bcbf734
	ctorDHGenRetry          uint32 = 0x46dc1fb9
	ctorDHGenFail           uint32 = 0xa69dae02
)
