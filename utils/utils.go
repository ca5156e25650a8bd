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

package utils

import (
	"log"
	"net/http"
	"strings"
)

// LogRequest logs an incoming request, hiding the sensitive headers
func LogRequest(req *http.Request) {
	if req == nil {
		return
	}

	method := req.Method
	path := req.URL.Path

	val, ok := req.Header["User-Agent"]
	if ok && len(val) != 0 && val[0] == "ELB-HealthChecker/2.0" {
		return
	}

	header := make(map[string][]string)
	for key, value := range req.Header {
		var logValue []string
		//do not log api keys and Authorization
		if key == "Access-Api-Key" || key == "Cookie" || key == "Authorization" {
			logValue = append(logValue, "---")
		} else {
			logValue = value
		}
		header[key] = logValue
	}
	log.Printf("%s %s %s", method, path, header)
}

// Contains says if the slice holds the value
func Contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

// Union merges two slices preserving order and dropping duplicates
func Union(a []string, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	result := []string{}
	for _, item := range append(append([]string{}, a...), b...) {
		if !seen[item] {
			seen[item] = true
			result = append(result, item)
		}
	}
	return result
}

// EqualIgnoreCase compares two strings case-insensitively
func EqualIgnoreCase(a string, b string) bool {
	return strings.EqualFold(a, b)
}

// IsBlank says if the string is empty or whitespace only
func IsBlank(value string) bool {
	return len(strings.TrimSpace(value)) == 0
}
