package cln

type GetInfoResponse struct {
	Id                  string `json:"id"`
	Alias               string `json:"alias"`
	Color               string `json:"color"`
	NumPeers            int    `json:"num_peers"`
	NumPendingChannels  int    `json:"num_pending_channels"`
	NumActiveChannels   int    `json:"num_active_channels"`
	NumInactiveChannels int    `json:"num_inactive_channels"`
	Version             string `json:"version"`
	Blockheight         int    `json:"blockheight"`
	Network             string `json:"network"`
	LightningDir        string `json:"lightning-dir"`
}

type CreateInvoiceRequest struct {
	AmountMsat  int64  `json:"amount_msat"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Expiry      int64  `json:"expiry,omitempty"`
}

type CreateInvoiceResponse struct {
	PaymentHash   string `json:"payment_hash"`
	ExpiresAt     int64  `json:"expires_at"`
	Bolt11        string `json:"bolt11"`
	PaymentSecret string `json:"payment_secret"`
}

type DecodePayResponse struct {
	Currency    string `json:"currency"`
	CreatedAt   int64  `json:"created_at"`
	Expiry      int64  `json:"expiry"`
	Payee       string `json:"payee"`
	AmountMsat  Msat   `json:"amount_msat"`
	Description string `json:"description"`
	PaymentHash string `json:"payment_hash"`
}

type PayRequest struct {
	Bolt11 string `json:"bolt11"`
	MaxFee *int64 `json:"maxfee,omitempty"`
}

type PayInvoiceResponse struct {
	Destination     string  `json:"destination"`
	PaymentHash     string  `json:"payment_hash"`
	CreatedAt       float64 `json:"created_at"`
	Parts           int     `json:"parts"`
	AmountMsat      Msat    `json:"amount_msat"`
	AmountSentMsat  Msat    `json:"amount_sent_msat"`
	PaymentPreimage string  `json:"payment_preimage"`
	Status          string  `json:"status"`
}

type ListPaysResponse struct {
	Pays []struct {
		PaymentHash    string `json:"payment_hash"`
		Status         string `json:"status"`
		Preimage       string `json:"preimage"`
		CreatedAt      int64  `json:"created_at"`
		AmountMsat     Msat   `json:"amount_msat"`
		AmountSentMsat Msat   `json:"amount_sent_msat"`
	} `json:"pays"`
}

type ListFundsResponse struct {
	Outputs []struct {
		Txid       string `json:"txid"`
		Output     int    `json:"output"`
		AmountMsat Msat   `json:"amount_msat"`
		Status     string `json:"status"`
		Reserved   bool   `json:"reserved"`
	} `json:"outputs"`
}

type PeerChannel struct {
	PeerId         string `json:"peer_id"`
	PeerConnected  bool   `json:"peer_connected"`
	State          string `json:"state"`
	ShortChannelId string `json:"short_channel_id"`
	ChannelId      string `json:"channel_id"`
	FundingTxid    string `json:"funding_txid"`
	FundingOutnum  uint32 `json:"funding_outnum"`
	Private        bool   `json:"private"`
	TotalMsat      Msat   `json:"total_msat"`
	ToUsMsat       Msat   `json:"to_us_msat"`
}

type ListPeerChannelsResponse struct {
	Channels []PeerChannel `json:"channels"`
}

type FundChannelRequest struct {
	Id       string `json:"id"`
	Amount   int64  `json:"amount"`
	PushMsat int64  `json:"push_msat,omitempty"`
	Announce bool   `json:"announce"`
}

type FundChannelResponse struct {
	Tx        string `json:"tx"`
	Txid      string `json:"txid"`
	Outnum    uint32 `json:"outnum"`
	ChannelId string `json:"channel_id"`
}

type CloseRequest struct {
	Id                string `json:"id"`
	UnilateralTimeout *int   `json:"unilateraltimeout,omitempty"`
}

type CloseResponse struct {
	Type string `json:"type"`
	Tx   string `json:"tx"`
	Txid string `json:"txid"`
}
