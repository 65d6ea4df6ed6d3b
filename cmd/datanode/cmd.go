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

package main

import (
	"context"
	"runtime"
	"strconv"

	"github.com/cubefs/cubefs/blobstore/common/config"
	"github.com/cubefs/cubefs/blobstore/common/rpc/auditlog"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/log"
	_ "github.com/cubefs/cubefs/blobstore/util/version"

	"github.com/zibofs/zibofs/datanode"
	"github.com/zibofs/zibofs/server"
	"github.com/zibofs/zibofs/util"
)

// Config service config
type Config struct {
	datanode.Config

	HttpBindPort  uint32          `json:"http_bind_port"`
	MaxProcessors int             `json:"max_processors"`
	LogLevel      log.Level       `json:"log_level"`
	AuditLog      auditlog.Config `json:"audit_log"`
}

func main() {
	config.Init("f", "", "datanode.json")

	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		log.Fatal(errors.Detail(err))
	}

	initConfig(cfg)
	server.RegisterLogLevel()
	server.ModifyOpenFiles()
	log.SetOutputLevel(cfg.LogLevel)

	service, err := datanode.NewDataNode(context.Background(), &cfg.Config)
	if err != nil {
		log.Fatal(errors.Detail(err))
	}

	httpServer, err := server.NewHTTPServer("datanode", service.NewHandler(), &cfg.AuditLog)
	if err != nil {
		log.Fatal(errors.Detail(err))
	}
	httpServer.Serve(":" + strconv.Itoa(int(cfg.HttpBindPort)))

	server.WaitForSignal()

	httpServer.Stop()
	service.Close()
}

func initConfig(cfg *Config) {
	if cfg.HttpBindPort == 0 {
		cfg.HttpBindPort = 9102
	}
	if cfg.AuditLog.LogDir == "" {
		cfg.AuditLog.LogDir = "./run/audit_log"
	}
	if cfg.MaxProcessors > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcessors)
	}

	if cfg.Address == "" {
		ip, err := util.GetLocalIp()
		if err != nil {
			log.Fatalf("can't get local ip address, please set the address for the node config")
		}
		cfg.Address = ip + ":" + strconv.Itoa(int(cfg.HttpBindPort))
	}
}
