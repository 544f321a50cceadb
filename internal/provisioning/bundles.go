package provisioning

// SupportContact is shown with every error bundle.
const SupportContact = "support@dispenser-care.example"

// Bundle is the fixed user guidance attached to a code.
type Bundle struct {
	Code                 Code     `json:"code"`
	UserMessage          string   `json:"userMessage"`
	Retryable            bool     `json:"retryable"`
	SuggestedAction      string   `json:"suggestedAction"`
	TroubleshootingSteps []string `json:"troubleshootingSteps"`
	SupportContact       string   `json:"supportContact"`
}

var bundles = map[Code]Bundle{
	CodeDeviceNotFound: {
		UserMessage:     "We couldn't find a dispenser with that ID.",
		Retryable:       true,
		SuggestedAction: "Check the device ID on the label under the dispenser and try again.",
		TroubleshootingSteps: []string{
			"Make sure the ID matches the label exactly, including dashes.",
			"Confirm the dispenser is powered on.",
			"Wait a minute and try again if the device was just unboxed.",
		},
	},
	CodeDeviceAlreadyClaimed: {
		UserMessage:     "This dispenser is already linked to another account.",
		Retryable:       false,
		SuggestedAction: "Ask the current owner to release the device, or contact support.",
		TroubleshootingSteps: []string{
			"Check whether someone in your household already set this dispenser up.",
			"If you bought the device second-hand, the previous owner must release it.",
		},
	},
	CodeInvalidDeviceID: {
		UserMessage:     "That device ID isn't valid.",
		Retryable:       true,
		SuggestedAction: "Enter 5 to 100 letters, numbers, dashes or underscores.",
		TroubleshootingSteps: []string{
			"Remove any spaces from the ID.",
			"Copy the ID from the label under the dispenser.",
		},
	},
	CodeWiFiConfigFailed: {
		UserMessage:     "We couldn't save the Wi-Fi settings.",
		Retryable:       true,
		SuggestedAction: "Check the network name and password, then try again.",
		TroubleshootingSteps: []string{
			"Network names are case-sensitive.",
			"The dispenser only supports 2.4 GHz networks.",
			"Move the dispenser closer to your router.",
		},
	},
	CodeDeviceOffline: {
		UserMessage:     "We can't reach the service right now.",
		Retryable:       true,
		SuggestedAction: "Check your internet connection and try again.",
		TroubleshootingSteps: []string{
			"Make sure your phone or computer is online.",
			"Confirm the dispenser's status light is on.",
			"Try again in a few minutes.",
		},
	},
	CodePermissionDenied: {
		UserMessage:     "You don't have permission to set up this dispenser.",
		Retryable:       false,
		SuggestedAction: "Sign in with the account that owns the dispenser.",
		TroubleshootingSteps: []string{
			"Sign out and sign back in.",
			"Ask the account owner to invite you as a caregiver.",
		},
	},
	CodeUnknown: {
		UserMessage:     "Something went wrong.",
		Retryable:       true,
		SuggestedAction: "Try again. If it keeps happening, contact support.",
		TroubleshootingSteps: []string{
			"Close and reopen the setup wizard.",
		},
	},
}

// Describe returns the bundle for code. Unrecognised codes get the
// CodeUnknown bundle.
func Describe(code Code) Bundle {
	b, ok := bundles[code]
	if !ok {
		code = CodeUnknown
		b = bundles[CodeUnknown]
	}
	b.Code = code
	b.SupportContact = SupportContact
	b.TroubleshootingSteps = append([]string(nil), b.TroubleshootingSteps...)
	return b
}
