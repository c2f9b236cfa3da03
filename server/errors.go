package server

import "errors"

var errAlreadyRunning = errors.New("server: already running")
