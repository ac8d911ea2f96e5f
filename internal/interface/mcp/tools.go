package mcp_interface

import (
	"context"

	"github.com/ArkLabsHQ/lightning-mcp/internal/core/application"
)

type createInvoiceArgs struct {
	AmountSat int64  `json:"amount_sat" jsonschema:"minimum=0" jsonschema_description:"Invoice amount in satoshis"`
	Memo      string `json:"memo,omitempty" jsonschema_description:"Description embedded in the invoice"`
	Expiry    int64  `json:"expiry,omitempty" jsonschema:"minimum=0" jsonschema_description:"Seconds until the invoice expires, 3600 if unset"`
}

type decodeInvoiceArgs struct {
	PaymentRequest string `json:"payment_request" jsonschema:"minLength=1" jsonschema_description:"BOLT11 payment request"`
}

type payInvoiceArgs struct {
	PaymentRequest string   `json:"payment_request" jsonschema:"minLength=1" jsonschema_description:"BOLT11 payment request"`
	MaxFeeSat      *int64   `json:"max_fee_sat,omitempty" jsonschema:"minimum=0" jsonschema_description:"Routing fee ceiling in satoshis"`
	MaxFeePercent  *float64 `json:"max_fee_percent,omitempty" jsonschema:"minimum=0,maximum=100" jsonschema_description:"Routing fee ceiling in percent of the amount"`
}

type checkPaymentArgs struct {
	PaymentHash string `json:"payment_hash" jsonschema:"pattern=^[0-9a-fA-F]{64}$" jsonschema_description:"Hex encoded payment hash"`
}

type openChannelArgs struct {
	PeerPubkey  string `json:"peer_pubkey" jsonschema:"pattern=^[0-9a-fA-F]{66}$" jsonschema_description:"Hex encoded public key of the peer"`
	LocalAmtSat int64  `json:"local_amt_sat" jsonschema:"minimum=1" jsonschema_description:"Channel capacity funded by this node"`
	PushAmtSat  int64  `json:"push_amt_sat,omitempty" jsonschema:"minimum=0" jsonschema_description:"Amount given to the peer at opening"`
	Private     bool   `json:"private,omitempty" jsonschema_description:"Do not announce the channel"`
}

type closeChannelArgs struct {
	ChannelPoint string `json:"channel_point" jsonschema:"minLength=1" jsonschema_description:"Funding outpoint as txid:index"`
	Force        bool   `json:"force,omitempty" jsonschema_description:"Close unilaterally"`
}

type noArgs struct{}

func newTools(appSvc *application.Service) ([]*Tool, error) {
	builders := []func() (*Tool, error){
		func() (*Tool, error) {
			return newTool("create_invoice", "Create a Lightning invoice.",
				func(ctx context.Context, args createInvoiceArgs) (any, error) {
					return appSvc.CreateInvoice(ctx, args.AmountSat, args.Memo, args.Expiry)
				})
		},
		func() (*Tool, error) {
			return newTool("decode_invoice", "Decode a Lightning payment request.",
				func(ctx context.Context, args decodeInvoiceArgs) (any, error) {
					return appSvc.DecodeInvoice(ctx, args.PaymentRequest)
				})
		},
		func() (*Tool, error) {
			return newTool(
				"pay_invoice",
				"Pay a Lightning invoice. A routing failure is reported as a FAILED payment, "+
					"a timeout leaves the payment IN_FLIGHT until check_payment resolves it.",
				func(ctx context.Context, args payInvoiceArgs) (any, error) {
					return appSvc.PayInvoice(ctx, args.PaymentRequest, args.MaxFeeSat, args.MaxFeePercent)
				})
		},
		func() (*Tool, error) {
			return newTool("check_payment", "Get the status of an outgoing payment.",
				func(ctx context.Context, args checkPaymentArgs) (any, error) {
					return appSvc.CheckPayment(ctx, args.PaymentHash)
				})
		},
		func() (*Tool, error) {
			return newTool("get_wallet_balance", "Get the on-chain wallet balance.",
				func(ctx context.Context, _ noArgs) (any, error) {
					return appSvc.GetWalletBalance(ctx)
				})
		},
		func() (*Tool, error) {
			return newTool("get_channel_balance", "Get the balance held in channels.",
				func(ctx context.Context, _ noArgs) (any, error) {
					return appSvc.GetChannelBalance(ctx)
				})
		},
		func() (*Tool, error) {
			return newTool("list_channels", "List the open channels.",
				func(ctx context.Context, _ noArgs) (any, error) {
					return appSvc.ListChannels(ctx)
				})
		},
		func() (*Tool, error) {
			return newTool("open_channel", "Open a channel with a connected peer.",
				func(ctx context.Context, args openChannelArgs) (any, error) {
					return appSvc.OpenChannel(
						ctx, args.PeerPubkey, args.LocalAmtSat, args.PushAmtSat, args.Private,
					)
				})
		},
		func() (*Tool, error) {
			return newTool("close_channel", "Close a channel.",
				func(ctx context.Context, args closeChannelArgs) (any, error) {
					return appSvc.CloseChannel(ctx, args.ChannelPoint, args.Force)
				})
		},
		func() (*Tool, error) {
			return newTool("get_node_info", "Get the identity and state of the Lightning node.",
				func(ctx context.Context, _ noArgs) (any, error) {
					return appSvc.GetNodeInfo(ctx)
				})
		},
	}

	tools := make([]*Tool, 0, len(builders))
	for _, build := range builders {
		t, err := build()
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	return tools, nil
}
