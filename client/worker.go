package client

import "github.com/telemtx/mtproto/internal/worker"

// halter is the connection-local name for the shared worker.Worker
// lifecycle helper.
type halter = worker.Worker

func newHalter() *halter { return worker.New() }
