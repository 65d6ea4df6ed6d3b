// Copyright 2023 The ZiboFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package client holds the http api types and clients of the three
// services. Servers import it for the argument structs so the wire shape
// is declared once.
package client

import (
	"strings"

	"github.com/cubefs/cubefs/blobstore/common/rpc"
)

type TransportConfig struct {
	RequestTimeoutMs int64 `json:"request_timeout_ms"`
	DialTimeoutMs    int64 `json:"dial_timeout_ms"`
}

func newRPCClient(tc TransportConfig) rpc.Client {
	return rpc.NewClient(&rpc.Config{
		ClientTimeoutMs: tc.RequestTimeoutMs,
		Tc: rpc.TransportConfig{
			DialTimeoutMs: tc.DialTimeoutMs,
		},
	})
}

func hostURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}
