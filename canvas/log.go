package canvas

// Logging convention in the `canvas` package:
// Info:
//     essential events for abnormal behavior. This level should be silent on normal operation,
//     with the exception of one time (infrequent) initialization data that is useful for monitoring
//     this includes:
//     - connect/reconnect failures and exhaustion
//     - dropped or malformed inbound messages
// Error:
//     unrecoverable crash details
//     this includes:
//     - unexpected panics even if handled and suppressed for partial operation
// Debug (glog.V(2)):
//     key events for trace debugging and statistics
//     this includes:
//     - per-message send/receive with world and kind tags
//     - heartbeat and rtt samples
