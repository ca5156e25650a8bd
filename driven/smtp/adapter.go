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

package smtp

import (
	"fmt"
	"log"
	"net/smtp"
	"strings"
)

// Adapter sends transactional email over SMTP
type Adapter struct {
	host     string
	port     string
	username string
	password string
	from     string
}

// NewSMTPAdapter creates a new SMTP adapter instance
func NewSMTPAdapter(host string, port string, username string, password string, from string) *Adapter {
	return &Adapter{host: host, port: port, username: username, password: password, from: from}
}

// SendEmail sends a plain text email
func (a *Adapter) SendEmail(to string, subject string, body string) error {
	if len(a.host) == 0 {
		log.Printf("smtp not configured, dropping email to %s - %s", to, subject)
		return nil
	}
	if len(to) == 0 {
		return nil
	}

	message := strings.Join([]string{
		"From: " + a.from,
		"To: " + to,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%s", a.host, a.port)
	var auth smtp.Auth
	if len(a.username) > 0 {
		auth = smtp.PlainAuth("", a.username, a.password, a.host)
	}
	return smtp.SendMail(addr, auth, a.from, []string{to}, []byte(message))
}
