package domain

// LnConnectionOpts carries the transport parameters of the configured backend.
type LnConnectionOpts struct {
	Implementation Implementation `json:"implementation"`
	Network        Network        `json:"network"`

	// lnd (gRPC)
	RpcServer string `json:"rpc_server,omitempty"`
	// external (REST)
	Host string `json:"host,omitempty"`
	Port uint32 `json:"port,omitempty"`
	// lnd, external
	TlsCertPath  string `json:"tls_cert_path,omitempty"`
	MacaroonPath string `json:"macaroon_path,omitempty"`
	// c-lightning
	SocketPath string `json:"socket_path,omitempty"`
}
