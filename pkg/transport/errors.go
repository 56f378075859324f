package transport

import "errors"

var errSendRejected = errors.New("transport: send rejected")
