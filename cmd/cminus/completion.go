package main

import (
	"github.com/posener/complete/v2"
	"github.com/posener/complete/v2/predict"
)

var completer = &complete.Command{
	Sub: map[string]*complete.Command{
		BUILD_SUBCMD: {
			Flags: map[string]complete.Predictor{
				"o":      predict.Files("*.tm"),
				"config": predict.Files("*.yaml"),
				"trace":  predict.Nothing,
				"symtab": predict.Nothing,
				"tree":   predict.Nothing,
			},
			Args: predict.Files("*.cm"),
		},
		CHECK_SUBCMD: {
			Flags: map[string]complete.Predictor{
				"config": predict.Files("*.yaml"),
				"json":   predict.Nothing,
			},
			Args: predict.Files("*.cm"),
		},
		SYMTAB_SUBCMD: {
			Flags: map[string]complete.Predictor{
				"config": predict.Files("*.yaml"),
				"json":   predict.Nothing,
			},
			Args: predict.Files("*.cm"),
		},
		VERSION_SUBCMD:               {},
		INSTALL_COMPLETIONS_SUBCMD:   {},
		UNINSTALL_COMPLETIONS_SUBCMD: {},
	},
}
