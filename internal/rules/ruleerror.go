// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package rules

// RuleError is the status enum of the rule engine API. Names are
// stable, transport servers expose them verbatim.
type RuleError string

const (
	RuleErrorNoError                    RuleError = "NoError"
	RuleErrorRuleNotFound               RuleError = "RuleNotFound"
	RuleErrorInvalidRuleFormat          RuleError = "InvalidRuleFormat"
	RuleErrorThingNotFound              RuleError = "ThingNotFound"
	RuleErrorTypeNotFound               RuleError = "TypeNotFound"
	RuleErrorInvalidStateEvaluatorValue RuleError = "InvalidStateEvaluatorValue"
	RuleErrorInvalidRepeatingOption     RuleError = "InvalidRepeatingOption"
	RuleErrorInvalidCalendarItem        RuleError = "InvalidCalendarItem"
	RuleErrorInvalidTimeEventItem       RuleError = "InvalidTimeEventItem"
	RuleErrorNetworkError               RuleError = "NetworkError"
)
