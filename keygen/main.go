package main

import (
	"fmt"
	"os"
	"path/filepath"

	cli "github.com/urfave/cli/v2"
	"github.com/zhazhalaila/AsyncDKG/keygen/keys"
	"github.com/zhazhalaila/AsyncDKG/party"
	"github.com/zhazhalaila/AsyncDKG/verify"
)

var (
	nFlag   = &cli.IntFlag{Name: "n", Value: 4, Usage: "total node number"}
	tFlag   = &cli.IntFlag{Name: "t", Value: 1, Usage: "byzantine node number"}
	outFlag = &cli.StringFlag{Name: "out", Value: "keys", Usage: "folder the key files are written to"}
)

func main() {
	app := &cli.App{
		Name:   "adkg-keygen",
		Usage:  "generate long-term and coin keys for a committee, one file per party",
		Flags:  []cli.Flag{nFlag, tFlag, outFlag},
		Action: generate,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Printf("error: %+v\n", err)
		os.Exit(1)
	}
}

func generate(cctx *cli.Context) error {
	n, t := cctx.Int(nFlag.Name), cctx.Int(tFlag.Name)
	if err := (party.Params{N: n, T: t, ID: 1}).Validate(); err != nil {
		return err
	}
	folder := filepath.Join(cctx.String(outFlag.Name), fmt.Sprint(n))
	if err := os.MkdirAll(folder, 0740); err != nil {
		return err
	}
	for _, p := range keys.Generate(verify.DefaultSuite(), n, t) {
		path := filepath.Join(folder, fmt.Sprintf("party%d.toml", p.ID))
		if err := keys.Save(path, p); err != nil {
			return err
		}
		fmt.Println("wrote", path)
	}
	return nil
}
