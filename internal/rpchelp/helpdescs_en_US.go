// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpchelp

var helpDescsEnUS = map[string]string{
	// BumpFeeCmd help.
	"bumpfee--synopsis": "Bumps the fee of an opt-in-RBF transaction T, replacing it with a new transaction B.\n" +
		"An opt-in RBF transaction with the given txid must be in the wallet.\n" +
		"The command will not add new inputs or alter existing inputs.\n" +
		"The command will pay the additional fee by decreasing (or perhaps removing) its change output.\n" +
		"The command will fail if the wallet or mempool contains a transaction that spends one of T's outputs.\n" +
		"By default, the new fee will be calculated automatically using the smart fee estimate or the fallback fee.\n" +
		"The user can specify a confirmation target for the estimate, or a total fee.\n" +
		"At a minimum, the new fee rate must be high enough to pay a new relay fee and to enter the node's mempool.\n" +
		"For compatibility the change output may be selected by its index given as the second argument, moving the options to the third.",
	"bumpfee-txid":              "The txid to be bumped",
	"bumpfee-options":           "Optional fee settings",
	"bumpfeeoptions-confTarget": "Confirmation target (in blocks)",
	"bumpfeeoptions-totalFee":   "Total fee (NOT feerate) to pay, in satoshis",
	"bumpfee--result0":          "The replacement transaction",

	// BumpFeeResult help.
	"bumpfeeresult-txid":   "The id of the new transaction",
	"bumpfeeresult-oldfee": "Fee of the replaced transaction valued in bitcoin",
	"bumpfeeresult-fee":    "Fee of the new transaction valued in bitcoin",

	// GetNewAddressCmd help.
	"getnewaddress--synopsis":   "Returns a new address for receiving payments, labeled with the account name in the address book.",
	"getnewaddress-account":     "DEPRECATED -- Label of the new address (default=\"\")",
	"getnewaddress-addresstype": "The address type to use. Only \"bech32\" is supported.",
	"getnewaddress--result0":    "The payment address",

	// HelpCmd help.
	"help--synopsis":   "Returns a list of all commands or help for a specified command.",
	"help-command":     "The command to retrieve help for",
	"help--condition0": "no command provided",
	"help--condition1": "command specified",
	"help--result0":    "List of commands",
	"help--result1":    "Help for specified command",

	// SendToAddressCmd help.
	"sendtoaddress--synopsis": "Authors, signs, and sends a transaction that outputs some amount to a payment address.\n" +
		"Only confirmed wallet outputs are spent, every input signals opt-in RBF and change goes to a new change address.",
	"sendtoaddress-address":   "Address to pay",
	"sendtoaddress-amount":    "Amount to send to the payment address valued in bitcoin",
	"sendtoaddress-comment":   "Local comment for the transaction",
	"sendtoaddress-commentto": "Unused",
	"sendtoaddress--result0":  "The transaction hash of the sent transaction",

	// StopCmd help.
	"stop--synopsis": "Stops the wallet.",
	"stop--result0":  "The string 'rbfwallet stopping.'",

	// SweepPrivKeysCmd help.
	"sweepprivkeys--synopsis": "Sends all bitcoins controlled by the private keys to a new wallet address in a single transaction.\n" +
		"Outputs paying to the keys are searched in the mempool and the UTXO set of the chain server.",
	"sweepprivkeys-options":         "The keys to sweep and the labeling of the sweep",
	"sweepprivkeysoptions-privkeys": "An array of WIF private keys",
	"sweepprivkeysoptions-label":    "Label for the receiving address",
	"sweepprivkeysoptions-comment":  "Local comment for the receive transaction",
	"sweepprivkeys--result0":        "The transaction id of the sweep",
}
