// Package health provides composable probes and the HTTP handlers behind the
// liveness and readiness endpoints of both listeners.
//
// [All] combines probes, [Fixed] is static and [CheckFunc] adapts a plain
// function. [ShutdownGate] fails readiness as soon as a drain starts so load
// balancers stop routing new requests before in-flight uploads finish.
package health
