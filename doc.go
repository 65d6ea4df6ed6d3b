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

/*
Package zibofs is a distributed chunk-based filesystem split into three
services plus a client library.

The metadata service (mds) owns the namespace and the chunk layout. It
keeps inodes, directory entries and per-chunk replica locations in a
key-value store, places fresh chunks on the disk tier, and runs the
background archiver that copies cold chunks to optical nodes and evicts
their disk copies.

The scheduler tracks cluster membership. Data nodes heartbeat into it,
it ages them through healthy, suspect and dead states, drives primary
failover inside replication groups, and publishes a generation-stamped
cluster view the mds polls for allocation decisions.

Data nodes store chunk bytes. A node is real (local disks), virtual
(one process exposing many placement slots) or optical (write-once
archive media). Primaries forward writes synchronously to their
secondary before acknowledging.

The client package declares the http wire types for all three services
and implements the data path: byte-range reads and writes are mapped
onto chunk rpcs against the layout the mds hands out.

Each service binary lives under cmd/ and serves its router through the
shared server package, which layers request metrics, audit logging and
the profiling mux over every endpoint.
*/
package zibofs
