package dispatch

import "fmt"

func nodeParam(name string) Param {
	return Param{Name: name, Type: TypeInt, Required: true}
}

// DefaultRegistry returns the operations understood by the Lightning/Bitcoin
// tool worker.
func DefaultRegistry() *Registry {
	return NewRegistry().MustRegister(
		Operation{
			Kind:        "ping",
			Method:      "ping",
			Description: "round trip to the worker",
			Idempotent:  true,
		},
		Operation{
			Kind:        "health_check",
			Method:      "network_health",
			Description: "bitcoind and lightning node health summary",
			Idempotent:  true,
		},
		Operation{
			Kind:        "btc_info",
			Method:      "btc_getblockchaininfo",
			Description: "bitcoind blockchain info",
			Idempotent:  true,
		},
		Operation{
			Kind:        "btc_send",
			Method:      "btc_sendtoaddress",
			Description: "send coins to an address",
			Params: []Param{
				{Name: "address", Type: TypeString, Required: true},
				{Name: "amount_btc", Type: TypeString, Required: true},
			},
		},
		Operation{
			Kind:        "btc_mine",
			Method:      "btc_generatetoaddress",
			Description: "mine blocks to an address",
			Params: []Param{
				{Name: "blocks", Type: TypeInt, Required: true},
				{Name: "address", Type: TypeString, Required: true},
			},
		},
		Operation{
			Kind:        "ln_getinfo",
			Method:      "ln_getinfo",
			Description: "node identity and bindings",
			Params:      []Param{nodeParam("node")},
			Idempotent:  true,
		},
		Operation{
			Kind:        "ln_listpeers",
			Method:      "ln_listpeers",
			Description: "connected peers",
			Params:      []Param{nodeParam("node")},
			Idempotent:  true,
		},
		Operation{
			Kind:        "ln_listfunds",
			Method:      "ln_listfunds",
			Description: "on-chain outputs and channel funds",
			Params:      []Param{nodeParam("node")},
			Idempotent:  true,
		},
		Operation{
			Kind:        "ln_listchannels",
			Method:      "ln_listchannels",
			Description: "known channels",
			Params:      []Param{nodeParam("node")},
			Idempotent:  true,
		},
		Operation{
			Kind:        "ln_newaddr",
			Method:      "ln_newaddr",
			Description: "fresh on-chain address",
			Params:      []Param{nodeParam("node")},
		},
		Operation{
			Kind:        "ln_connect",
			Method:      "ln_connect",
			Description: "connect to a peer",
			Params: []Param{
				nodeParam("from_node"),
				{Name: "peer_id", Type: TypeString, Required: true},
				{Name: "host", Type: TypeString, Required: true},
				{Name: "port", Type: TypeInt, Required: true},
			},
		},
		Operation{
			Kind:        "ln_openchannel",
			Method:      "ln_openchannel",
			Description: "open a channel to a connected peer",
			Params: []Param{
				nodeParam("from_node"),
				{Name: "peer_id", Type: TypeString, Required: true},
				{Name: "amount_sat", Type: TypeInt, Required: true},
			},
		},
		Operation{
			Kind:        "ln_invoice",
			Method:      "ln_invoice",
			Description: "create an invoice",
			Params: []Param{
				nodeParam("node"),
				{Name: "amount_msat", Type: TypeInt},
				{Name: "label", Type: TypeString},
				{Name: "description", Type: TypeString, Default: "invoice"},
			},
			Prepare: func(requestID uint64, params map[string]any) {
				if label, _ := params["label"].(string); label == "" || label == "null" {
					params["label"] = fmt.Sprintf("inv-%d-%v", requestID, params["node"])
				}
			},
		},
		Operation{
			Kind:        "ln_pay",
			Method:      "ln_pay",
			Description: "pay a bolt11 invoice",
			Params: []Param{
				nodeParam("from_node"),
				{Name: "bolt11", Type: TypeString, Required: true},
			},
		},
	)
}
