// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sentry

import (
	"fmt"

	"go.uber.org/zap"
)

type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
	IssueTypeFatal   IssueType = "fatal"
)

func ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger) {
	ReportIssueWithContext(err, issueType, log, nil)
}

func ReportIssuef(issueType IssueType, log *zap.SugaredLogger, template string, args ...interface{}) {
	ReportIssue(fmt.Errorf(template, args...), issueType, log)
}

// ReportIssueWithContext reports an issue with additional context data that will be included in Sentry.
func ReportIssueWithContext(err error, issueType IssueType, log *zap.SugaredLogger, context map[string]interface{}) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	switch issueType {
	case IssueTypeFatal:
		reportFatal(err, log, context)
	case IssueTypeError:
		reportError(err, log, context)
	case IssueTypeWarning:
		reportWarning(err, log, context)
	}
}

// ReportMutatorError reports a failed mutator. The mutator name is part of the
// fingerprint, the space and client ids are tags only.
func ReportMutatorError(log *zap.SugaredLogger, spaceID string, clientID string, mutator string, err error) {
	context := map[string]interface{}{
		"space_id":  spaceID,
		"client_id": clientID,
		"mutator":   mutator,
		"operation": "push",
	}
	ReportIssueWithContext(err, IssueTypeWarning, log, context)
}

// ReportRequestError reports an unexpected failure while serving an HTTP request.
func ReportRequestError(log *zap.SugaredLogger, requestID string, operation string, err error) {
	context := map[string]interface{}{
		"request_id": requestID,
		"operation":  operation,
	}
	ReportIssueWithContext(err, IssueTypeError, log, context)
}
