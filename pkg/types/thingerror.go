// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package types

// ThingError is the status enum of the thing manager API. Names are
// stable, transport servers expose them verbatim.
type ThingError string

const (
	ThingErrorNoError                      ThingError = "NoError"
	ThingErrorPluginNotFound               ThingError = "PluginNotFound"
	ThingErrorVendorNotFound               ThingError = "VendorNotFound"
	ThingErrorThingNotFound                ThingError = "ThingNotFound"
	ThingErrorThingClassNotFound           ThingError = "ThingClassNotFound"
	ThingErrorActionTypeNotFound           ThingError = "ActionTypeNotFound"
	ThingErrorStateTypeNotFound            ThingError = "StateTypeNotFound"
	ThingErrorEventTypeNotFound            ThingError = "EventTypeNotFound"
	ThingErrorThingDescriptorNotFound      ThingError = "ThingDescriptorNotFound"
	ThingErrorMissingParameter             ThingError = "MissingParameter"
	ThingErrorInvalidParameter             ThingError = "InvalidParameter"
	ThingErrorSetupFailed                  ThingError = "SetupFailed"
	ThingErrorDuplicateUuid                ThingError = "DuplicateUuid"
	ThingErrorCreationMethodNotSupported   ThingError = "CreationMethodNotSupported"
	ThingErrorSetupMethodNotSupported      ThingError = "SetupMethodNotSupported"
	ThingErrorHardwareNotAvailable         ThingError = "HardwareNotAvailable"
	ThingErrorHardwareFailure              ThingError = "HardwareFailure"
	ThingErrorAuthenticationFailure        ThingError = "AuthenticationFailure"
	ThingErrorThingInUse                   ThingError = "ThingInUse"
	ThingErrorThingInRule                  ThingError = "ThingInRule"
	ThingErrorThingIsChild                 ThingError = "ThingIsChild"
	ThingErrorPairingTransactionIdNotFound ThingError = "PairingTransactionIdNotFound"
	ThingErrorParameterNotWritable         ThingError = "ParameterNotWritable"
	ThingErrorItemNotFound                 ThingError = "ItemNotFound"
	ThingErrorItemNotExecutable            ThingError = "ItemNotExecutable"
	ThingErrorUnsupportedFeature           ThingError = "UnsupportedFeature"
	ThingErrorTimeout                      ThingError = "Timeout"
	ThingErrorAsync                        ThingError = "Async"
)

// FromValidationError maps a param validation failure onto the thing
// manager status enum.
func FromValidationError(err error) ThingError {
	verr, ok := err.(*ValidationError)
	if !ok {
		return ThingErrorInvalidParameter
	}
	switch verr.Code {
	case MissingParameter:
		return ThingErrorMissingParameter
	case ParameterNotWritable:
		return ThingErrorParameterNotWritable
	default:
		return ThingErrorInvalidParameter
	}
}
