package broker

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

const manageConsolePipesURL = "/manage_console_pipes"

var (
	// ErrBrokerUnavailable means the control plane could not be reached or
	// gave no usable answer in time.
	ErrBrokerUnavailable = errors.New("console broker unavailable")
	// ErrPipeRejected means the control plane explicitly declined the request,
	// e.g. because the target server is not running.
	ErrPipeRejected = errors.New("console pipe rejected")
)

// pipeRequest is the body of PUT /manage_console_pipes.
type pipeRequest struct {
	ServerUUID string `json:"server_uuid"`
	IsOpen     bool   `json:"is_open"`
}

// pipeResponse is returned by the control plane when a pipe is opened.
type pipeResponse struct {
	Protocol    string `json:"protocol" validate:"required"`
	ForwardPort int    `json:"forward_port" validate:"min=1,max=65535"`
}

// Endpoint is where the console transport connects once a pipe is open. It
// stays valid only while the pipe is held.
type Endpoint struct {
	Protocol string
	Host     string
	Port     int
}

// URL renders the endpoint as a dialable URL, e.g. "wss://host:5000/".
func (e Endpoint) URL() string {
	return fmt.Sprintf("%s://%s/", e.Protocol, net.JoinHostPort(e.Host, strconv.Itoa(e.Port)))
}

func (e Endpoint) String() string {
	return e.URL()
}
