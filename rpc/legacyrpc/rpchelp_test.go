package legacyrpc

import (
	"testing"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/rbfwallet/internal/rpchelp"
	"github.com/stretchr/testify/require"
)

func serverMethods() map[string]struct{} {
	m := make(map[string]struct{})
	for method, handlerData := range rpcHandlers {
		if !handlerData.noHelp {
			m[method] = struct{}{}
		}
	}
	return m
}

// TestRPCMethodHelpGeneration ensures that help text can be generated for every
// method of the RPC server for every supported locale.
func TestRPCMethodHelpGeneration(t *testing.T) {
	t.Parallel()

	for i := range rpchelp.HelpDescs {
		svrMethods := serverMethods()
		locale := rpchelp.HelpDescs[i].Locale
		for _, m := range rpchelp.Methods {
			delete(svrMethods, m.Method)

			_, err := btcjson.GenerateHelp(
				m.Method, rpchelp.HelpDescs[i].Descs,
				m.ResultTypes...,
			)
			require.NoErrorf(t, err, "cannot generate '%s' help "+
				"for method '%s'", locale, m.Method)
		}

		for m := range svrMethods {
			t.Errorf("Missing '%s' help for method '%s'", locale, m)
		}
	}
}

// TestRPCMethodUsageGeneration ensures that single line usage text can be
// generated for every supported request of the RPC server.
func TestRPCMethodUsageGeneration(t *testing.T) {
	t.Parallel()

	svrMethods := serverMethods()
	for _, m := range rpchelp.Methods {
		delete(svrMethods, m.Method)

		usage, err := btcjson.MethodUsageText(m.Method)
		require.NoErrorf(t, err, "cannot generate single line usage "+
			"for method '%s'", m.Method)
		require.NotEmpty(t, usage)
	}

	for m := range svrMethods {
		t.Errorf("Missing usage for method '%s'", m)
	}
}

// TestHelpHandler checks the help handler for the usage listing, a single
// method and an unknown method.
func TestHelpHandler(t *testing.T) {
	t.Parallel()

	usages, err := help(&btcjson.HelpCmd{}, nil)
	require.NoError(t, err)
	require.Contains(t, usages, `bumpfee "txid"`)
	require.Contains(t, usages, "sweepprivkeys")

	method := "bumpfee"
	text, err := help(&btcjson.HelpCmd{Command: &method}, nil)
	require.NoError(t, err)
	require.Contains(t, text, "Bumps the fee")
	require.Contains(t, text, "oldfee")

	unknown := "getbalance"
	_, err = help(&btcjson.HelpCmd{Command: &unknown}, nil)
	require.Error(t, err)
	require.Equal(
		t, btcjson.ErrRPCInvalidParameter, jsonError(err).Code,
	)
}
