// Copyright 2022 Board of Trustees of the University of Illinois.
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

package core

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error kinds. IdP and hook failures are logged and swallowed, never typed back
// to callers, so they carry no kind here.
const (
	KindValidation   int = 1
	KindConflict     int = 2
	KindPolicyDenied int = 3
	KindNotFound     int = 4
	KindForbidden    int = 5
	KindStore        int = 6
)

// AccessError access governance error
type AccessError struct {
	Kind    int
	Message string
}

// Error returns the error message
func (err *AccessError) Error() string {
	return err.Message
}

// JSONErrorString constructs json representation of the error
func (err *AccessError) JSONErrorString() string {
	errorData := map[string]interface{}{
		"error": map[string]interface{}{
			"code": err.Kind,
			"text": err.Message,
		},
	}
	jsonString, _ := json.Marshal(errorData)
	return string(jsonString)
}

// NewValidationError new validation error
func NewValidationError(message string) *AccessError {
	return &AccessError{Kind: KindValidation, Message: message}
}

// NewConflictError new conflict error
func NewConflictError(message string) *AccessError {
	return &AccessError{Kind: KindConflict, Message: message}
}

// NewPolicyDeniedError new policy gate denial
func NewPolicyDeniedError(message string) *AccessError {
	return &AccessError{Kind: KindPolicyDenied, Message: message}
}

// NewNotFoundError new not found error
func NewNotFoundError(entity string) *AccessError {
	return &AccessError{Kind: KindNotFound, Message: fmt.Sprintf("%s not found", entity)}
}

// NewForbiddenError new forbidden error
func NewForbiddenError() *AccessError {
	return &AccessError{Kind: KindForbidden, Message: "forbidden operation"}
}

// NewStoreError new store failure
func NewStoreError(err error) *AccessError {
	return &AccessError{Kind: KindStore, Message: fmt.Sprintf("store error: %s", err)}
}

// ErrorKind extracts the kind of an AccessError; 0 for foreign errors
func ErrorKind(err error) int {
	var accessErr *AccessError
	if errors.As(err, &accessErr) {
		return accessErr.Kind
	}
	return 0
}
