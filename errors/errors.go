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

package errors

import (
	"errors"

	"github.com/cubefs/cubefs/blobstore/common/rpc"
)

// Wire status codes. NotLeader and StaleEpoch carry their own codes so
// clients switch on the code instead of parsing message strings.
const (
	CodeInvalidArgument = 400
	CodeNotFound        = 404
	CodeAlreadyExists   = 409
	CodeNotEmpty        = 461
	CodeIOError         = 462
	CodeNotLeader       = 463
	CodeStaleEpoch      = 464
	CodeInternalError   = 500
)

var (
	ErrInvalidArgument = rpc.NewError(CodeInvalidArgument, "InvalidArgument", errors.New("invalid argument"))
	ErrNotFound        = rpc.NewError(CodeNotFound, "NotFound", errors.New("not found"))
	ErrAlreadyExists   = rpc.NewError(CodeAlreadyExists, "AlreadyExists", errors.New("already exists"))
	ErrNotEmpty        = rpc.NewError(CodeNotEmpty, "NotEmpty", errors.New("directory not empty"))
	ErrIO              = rpc.NewError(CodeIOError, "IOError", errors.New("io error"))
	ErrNotLeader       = rpc.NewError(CodeNotLeader, "NotLeader", errors.New("not leader"))
	ErrStaleEpoch      = rpc.NewError(CodeStaleEpoch, "StaleEpoch", errors.New("stale epoch"))
	ErrInternal        = rpc.NewError(CodeInternalError, "InternalError", errors.New("internal error"))
)

var (
	ErrPathDoesNotExist  = errors.New("path does not exist")
	ErrInodeDoesNotExist = errors.New("inode does not exist")
	ErrNodeDoesNotExist  = errors.New("node not found")
	ErrDiskDoesNotExist  = errors.New("disk not found or unhealthy")
	ErrChunkDoesNotExist = errors.New("chunk not found")

	ErrNotDirectory = errors.New("parent is not a directory")
	ErrIsDirectory  = errors.New("inode is a directory")

	ErrNoAllocatableNode = errors.New("no allocatable node")

	ErrInvalidData = errors.New("invalid data")

	ErrServerStopped = errors.New("server stopped")
)

// NewIO wraps a backend failure with the IO status code, keeping the cause
// in the message for operators.
func NewIO(err error) error {
	return rpc.NewError(CodeIOError, "IOError", err)
}

// StatusCode extracts the wire code from an error, 200 for nil and 500 for
// errors that never crossed an rpc boundary.
func StatusCode(err error) int {
	if err == nil {
		return 200
	}
	return rpc.DetectStatusCode(err)
}
