/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package main runs one process: it loads a definition, runs its
// sessions, and connects it to stdio, a WebSocket listener, an MQTT
// topic, and/or a cron schedule.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/Comcast/corral/behave"
	"github.com/Comcast/corral/correlation"
	"github.com/Comcast/corral/deploy"
	"github.com/Comcast/corral/process"
	"github.com/Comcast/corral/sio"
	"github.com/Comcast/corral/store"
	"github.com/Comcast/corral/store/bolt"
	"github.com/Comcast/corral/tools"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.LUTC)

	var (
		defFile    = flag.String("d", "", "Process definition filename (YAML or JSON)")
		scriptFile = flag.String("script", "", "Optional session body (JavaScript) instead of the definition's")
		engine     = flag.String("engine", "", `Optional engine override: "scan" or "hash"`)

		stdio    = flag.Bool("stdio", true, "Read envelopes from stdin")
		wsAddr   = flag.String("ws", "", "Optional WebSocket listen address (e.g. :8080)")
		wsPath   = flag.String("ws-path", "/ws", "WebSocket handler path")
		broker   = flag.String("mqtt", "", "Optional MQTT broker (e.g. tcp://localhost:1883)")
		topic    = flag.String("t", "corral", "MQTT subscription topic (TOPIC or TOPIC:QOS)")
		clientId = flag.String("i", "", "MQTT client id")

		cronSpec  = flag.String("cron", "", "Optional cron schedule for a notification")
		cronOp    = flag.String("cron-op", "tick", "Operation for -cron notifications")
		cronValue = flag.String("cron-value", "{}", "Value (YAML or JSON) for -cron notifications")

		journal = flag.String("j", "", "Optional journal (bbolt) filename")

		htmlOut = flag.Bool("html", false, "Write the definition as HTML to stdout and exit")
		graph   = flag.Bool("graph", false, "Include a graph with -html")
		dump    = flag.Bool("dump", false, "Write the definition as YAML to stdout and exit")

		wait    = flag.Duration("wait", 5*time.Second, "How long to wait for sessions to end at shutdown")
		verbose = flag.Bool("v", false, "Verbose")
	)

	flag.Parse()

	if *defFile == "" {
		fmt.Fprintf(os.Stderr, "Need -d\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	doc, err := deploy.Load(*defFile)
	if err != nil {
		panic(err)
	}

	if *dump {
		bs, err := doc.Marshal()
		if err != nil {
			panic(err)
		}
		fmt.Printf("%s", bs)
		return
	}

	if *htmlOut {
		def, err := doc.Definition()
		if err != nil {
			panic(err)
		}
		if err = tools.RenderDefinitionPage(def, os.Stdout, nil, *graph); err != nil {
			panic(err)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := doc.Config()
	if *engine != "" {
		cfg.Strategy = correlation.Strategy(*engine)
	}
	cfg.Verbose = *verbose

	var storage store.Storage
	if *journal != "" {
		s, err := bolt.NewStorage(*journal)
		if err != nil {
			panic(err)
		}
		if err = s.Open(ctx); err != nil {
			panic(err)
		}
		storage = s
		cfg.Observer = store.NewJournal(doc.Name, s)
	}

	def, e, err := doc.Build(cfg)
	if err != nil {
		panic(err)
	}

	src := doc.Script
	if *scriptFile != "" {
		bs, err := ioutil.ReadFile(*scriptFile)
		if err != nil {
			panic(err)
		}
		src = string(bs)
	}
	if src == "" {
		log.Fatalf("%s has no script and no -script given", *defFile)
	}
	libs := behave.MakeFileLibraryProvider(filepath.Dir(*defFile))
	script, err := behave.CompileWithRequires(ctx, def.Name, src, libs)
	if err != nil {
		panic(err)
	}
	script.Verbose = *verbose

	d := process.NewDispatcher(def, e, script.Behaviour())
	d.Verbose = *verbose
	d.Process.Verbose = *verbose
	d.Start(ctx)

	log.Printf("process %s (%s, %d operations) running", def.Name, def.Mode, len(def.Operations))

	done := make(chan bool, 4)

	if *wsAddr != "" {
		ws := sio.NewWebSocket(d)
		ws.Verbose = *verbose
		go func() {
			if err := ws.Serve(ctx, *wsAddr, *wsPath); err != nil {
				log.Printf("ERROR websocket: %s", err)
				done <- true
			}
		}()
	}

	var mq *sio.MQTT
	if *broker != "" {
		mq = sio.NewMQTT(d, sio.NewMQTTOptions(*broker, *clientId), *topic)
		mq.Verbose = *verbose
		if err := mq.Start(ctx); err != nil {
			panic(err)
		}
	}

	if *cronSpec != "" {
		v, err := deploy.ParseValue([]byte(*cronValue))
		if err != nil {
			panic(err)
		}
		c, err := sio.NewCron(d, *cronSpec, *cronOp, v)
		if err != nil {
			panic(err)
		}
		c.Verbose = *verbose
		go c.Run(ctx)
	}

	if *stdio {
		s := sio.NewStdio(d)
		s.Verbose = *verbose
		go func() {
			s.Run(ctx)
			log.Printf("input EOF")
			done <- true
		}()
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)

	select {
	case <-interrupts:
		log.Printf("interrupted")
	case <-done:
	}

	wctx, wcancel := context.WithTimeout(context.Background(), *wait)
	defer wcancel()

	if err := d.Close(wctx); err != nil {
		log.Printf("ERROR closing %s: %s (%d sessions still running)", def.Name, err, d.Process.Running())
	}

	if mq != nil {
		mq.Stop(wctx)
	}

	cancel()

	if storage != nil {
		es, err := storage.Entries(wctx, def.Name)
		if err != nil {
			log.Printf("ERROR journal: %s", err)
		} else if live := store.Live(es); 0 < len(live) {
			log.Printf("journal shows %d unfinished sessions", len(live))
		}
		if err = storage.Close(wctx); err != nil {
			log.Printf("ERROR closing journal: %s", err)
		}
	}
}
