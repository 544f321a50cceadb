// Package provisioning defines the closed error taxonomy shared by the
// device-provisioning components and the classifier that maps raw store and
// transport failures onto it.
//
// Store adapters report failures as *TransportError carrying a TransportCode.
// Services wrap them with Wrap, which classifies the failure and attaches the
// user-facing message and retryability from the code's Bundle:
//
//	if err := store.Upsert(ctx, rec); err != nil {
//	    return provisioning.Wrap("devicecfg.save", err)
//	}
//
// UI boundaries only need the UserError interface: show UserMessage and
// offer a retry action when Retryable is true.
package provisioning
