package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	core "alkanes/core"
)

func main() {
	rootCmd := &cobra.Command{Use: "alkanesd"}
	rootCmd.AddCommand(genesisCmd())
	rootCmd.AddCommand(indexCmd())
	rootCmd.AddCommand(viewCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore(dbPath string) (*core.AtomicPointer, *core.DiskBackend, error) {
	backend, err := core.OpenDiskBackend(dbPath, 16, 16)
	if err != nil {
		return nil, nil, err
	}
	return core.NewAtomicPointer(backend), backend, nil
}

func networkByName(name string) core.NetworkParams {
	if name == "mainnet" {
		return core.Mainnet
	}
	return core.Regtest
}

func genesisCmd() *cobra.Command {
	var dbPath, network string
	cmd := &cobra.Command{
		Use:   "genesis",
		Short: "run the genesis routine against a fresh or existing store",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, backend, err := openStore(dbPath)
			if err != nil {
				return err
			}
			defer backend.Close()
			if err := core.RunGenesis(store, networkByName(network)); err != nil {
				return err
			}
			fmt.Println("genesis complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "./alkanes-data", "path to the LevelDB store")
	cmd.Flags().StringVar(&network, "network", "regtest", "network parameter set (regtest|mainnet)")
	return cmd
}

// jsonTransfer/jsonProtostone/jsonTransaction/jsonBlock are the CLI's wire
// format for a decoded block: a thin JSON DTO distinct from the core's own
// DecodedBlock, since the core's types carry u128 fields that don't have a
// natural JSON shape. The host Bitcoin block parser / Runestone decoder this
// stands in for is an explicit external collaborator (spec §1); this format
// is this tree's fixed choice for feeding its output to the engine offline.
type jsonTransfer struct {
	Block uint64 `json:"block"`
	Tx    uint64 `json:"tx"`
	Value uint64 `json:"value"`
}

type jsonProtostone struct {
	Runes         []jsonTransfer `json:"runes"`
	CalldataHex   string         `json:"calldata_hex"`
	Pointer       uint32         `json:"pointer"`
	RefundPointer uint32         `json:"refund_pointer"`
	Vout          uint32         `json:"vout"`
	WitnessHex    string         `json:"witness_hex,omitempty"`
}

type jsonTransaction struct {
	BytesHex    string           `json:"bytes_hex"`
	TxidHex     string           `json:"txid_hex"`
	Vsize       uint64           `json:"vsize"`
	Protostones []jsonProtostone `json:"protostones"`
}

type jsonBlock struct {
	Height            uint64            `json:"height"`
	HeaderHex         string            `json:"header_hex"`
	CoinbaseTxHex     string            `json:"coinbase_tx_hex"`
	CoinbaseOutputSum uint64            `json:"coinbase_output_sum"`
	Transactions      []jsonTransaction `json:"transactions"`
}

func decodeBlock(raw []byte) (core.DecodedBlock, error) {
	var jb jsonBlock
	if err := json.Unmarshal(raw, &jb); err != nil {
		return core.DecodedBlock{}, err
	}
	header, err := hex.DecodeString(jb.HeaderHex)
	if err != nil {
		return core.DecodedBlock{}, err
	}
	coinbase, err := hex.DecodeString(jb.CoinbaseTxHex)
	if err != nil {
		return core.DecodedBlock{}, err
	}

	block := core.DecodedBlock{
		Height:            jb.Height,
		HeaderBytes:       header,
		CoinbaseTxBytes:   coinbase,
		CoinbaseOutputSum: core.U128FromU64(jb.CoinbaseOutputSum),
	}

	var totalVsize uint64
	for _, jt := range jb.Transactions {
		txBytes, err := hex.DecodeString(jt.BytesHex)
		if err != nil {
			return core.DecodedBlock{}, err
		}
		outpoint, err := core.FormatOutpoint(jt.TxidHex, 0)
		if err != nil {
			return core.DecodedBlock{}, err
		}
		tx := core.DecodedTransaction{
			Bytes:    txBytes,
			Outpoint: outpoint,
			Vsize:    jt.Vsize,
		}
		for _, jp := range jt.Protostones {
			calldata, err := hex.DecodeString(jp.CalldataHex)
			if err != nil {
				return core.DecodedBlock{}, err
			}
			runes := make(core.AlkaneTransferParcel, 0, len(jp.Runes))
			for _, r := range jp.Runes {
				runes = append(runes, core.AlkaneTransfer{
					ID:    core.AlkaneId{Block: core.U128FromU64(r.Block), Tx: core.U128FromU64(r.Tx)},
					Value: core.U128FromU64(r.Value),
				})
			}
			var witness *core.DeployWitness
			if jp.WitnessHex != "" {
				wb, err := hex.DecodeString(jp.WitnessHex)
				if err != nil {
					return core.DecodedBlock{}, err
				}
				witness = &core.DeployWitness{Bytecode: wb}
			}
			tx.Protostones = append(tx.Protostones, core.ProtostoneMessage{
				Runes:         runes,
				Calldata:      calldata,
				Pointer:       jp.Pointer,
				RefundPointer: jp.RefundPointer,
				Vout:          jp.Vout,
				Witness:       witness,
			})
		}
		totalVsize += tx.Vsize
		block.Transactions = append(block.Transactions, tx)
	}
	block.TotalVsize = totalVsize
	return block, nil
}

func indexCmd() *cobra.Command {
	var dbPath, network, blockFile string
	cmd := &cobra.Command{
		Use:   "index",
		Short: "process one decoded block against the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(blockFile)
			if err != nil {
				return err
			}
			block, err := decodeBlock(raw)
			if err != nil {
				return err
			}
			store, backend, err := openStore(dbPath)
			if err != nil {
				return err
			}
			defer backend.Close()

			loader := core.NewModuleLoader()
			ix := core.NewIndexer(store, loader, networkByName(network))
			if err := ix.ProcessBlock(block); err != nil {
				return err
			}
			fmt.Printf("indexed block %d: %d transactions, %d diesel-mint intents\n", block.Height, len(block.Transactions), ix.DieselMintCount())
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "./alkanes-data", "path to the LevelDB store")
	cmd.Flags().StringVar(&network, "network", "regtest", "network parameter set (regtest|mainnet)")
	cmd.Flags().StringVar(&blockFile, "block", "", "path to a JSON-decoded block file")
	cmd.MarkFlagRequired("block")
	return cmd
}

func viewCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "view"}
	cmd.AddCommand(viewSequenceCmd())
	cmd.AddCommand(viewBytecodeCmd())
	return cmd
}

func viewSequenceCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "sequence",
		Short: "print the current /sequence value",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, backend, err := openStore(dbPath)
			if err != nil {
				return err
			}
			defer backend.Close()
			raw := core.SequenceSnapshot(store)
			v, err := core.U128FromLE16(raw)
			if err != nil {
				return err
			}
			fmt.Println(v.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "./alkanes-data", "path to the LevelDB store")
	return cmd
}

func viewBytecodeCmd() *cobra.Command {
	var dbPath string
	var block, tx uint64
	cmd := &cobra.Command{
		Use:   "bytecode",
		Short: "load and compile the WASM stored at an identity; the bytecode itself is not printed",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, backend, err := openStore(dbPath)
			if err != nil {
				return err
			}
			defer backend.Close()
			loader := core.NewModuleLoader()
			id := core.AlkaneId{Block: core.U128FromU64(block), Tx: core.U128FromU64(tx)}
			_, _, err = loader.Load(store, id)
			if err != nil {
				return err
			}
			fmt.Println("module compiled and cached ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "./alkanes-data", "path to the LevelDB store")
	cmd.Flags().Uint64Var(&block, "block", 0, "identity block component")
	cmd.Flags().Uint64Var(&tx, "tx", 0, "identity tx component")
	return cmd
}
