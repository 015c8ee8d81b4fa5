// cmd/node is a demo dispatcher: it boots one market's slab (loading a
// prior snapshot from Pebble if one exists, otherwise bootstrapping fresh
// defaults from params.Config), applies a short instruction sequence
// through pkg/instructions + pkg/auth + pkg/engine exactly the way a real
// host process would, and persists the result. Same config/logger/storage
// wiring as a typical node entrypoint, with the consensus/p2p/ABCI
// machinery removed (this engine is a single fixed-size region, not a
// replicated state machine; see DESIGN.md's dropped-dependency notes for
// libp2p/abci).
package main

import (
	"encoding/binary"
	"log"
	"os"

	"github.com/hyperslab/percolator/params"
	"github.com/hyperslab/percolator/pkg/auth"
	"github.com/hyperslab/percolator/pkg/engine"
	"github.com/hyperslab/percolator/pkg/fx128"
	"github.com/hyperslab/percolator/pkg/identity"
	"github.com/hyperslab/percolator/pkg/instructions"
	"github.com/hyperslab/percolator/pkg/matcher"
	"github.com/hyperslab/percolator/pkg/slab"
	"github.com/hyperslab/percolator/pkg/storage"
	"github.com/hyperslab/percolator/pkg/util"
)

// demoMarketID keys the one slab snapshot this demo dispatcher manages.
var demoMarketID = identity.ID{0xDE, 0xAD, 0xBE, 0xEF}

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	store, err := storage.Open(cfg.Node.DataDir)
	if err != nil {
		sugar.Fatalw("storage_open_failed", "err", err)
	}
	defer store.Close()

	adminOwner, err := auth.GenerateKey()
	if err != nil {
		sugar.Fatalw("admin_keygen_failed", "err", err)
	}
	adminID := adminOwner.OwnerID()

	sl, err := store.Load(demoMarketID)
	if err != nil {
		sugar.Fatalw("slab_load_failed", "err", err)
	}
	if sl == nil {
		sugar.Infow("bootstrapping_fresh_market", "data_dir", cfg.Node.DataDir)
		sl = &slab.Slab{
			Header: slab.Header{Magic: slab.Magic, Version: slab.Version, Admin: adminID},
			MarketConfig: slab.MarketConfig{
				MaxStalenessSlots:   cfg.Market.MaxStalenessSlots,
				ConfFilterBps:       cfg.Market.ConfFilterBps,
				Invert:              cfg.Market.Invert,
				UnitScale:           cfg.Market.UnitScale,
				InitialMarkPriceE6:  cfg.Market.InitialMarkPriceE6,
				OraclePriceCapE2Bps: cfg.Market.OraclePriceCapE2Bps,
			},
			Engine: slab.NewRiskEngine(cfg.Risk.ToRiskParams()),
		}
	}
	eng := engine.New(sl)

	owner, err := auth.GenerateKey()
	if err != nil {
		sugar.Fatalw("owner_keygen_failed", "err", err)
	}
	ownerID := owner.OwnerID()

	const now = uint64(1)
	const oraclePriceE6 = uint64(1_000_000)

	ins := []instructions.Instruction{
		{Tag: instructions.TagInitUser, InitUser: &instructions.InitUser{Fee: fx128.ZeroU128()}},
		{Tag: instructions.TagDeposit, Deposit: &instructions.Deposit{Amount: fx128.U128FromUint64(1_000_000_000)}},
		{Tag: instructions.TagSetRiskThreshold, SetRiskThreshold: &instructions.SetRiskThreshold{NewThreshold: fx128.U128FromUint64(1_000)}},
	}

	var userIdx uint32
	for _, in := range ins {
		// Every instruction here is owner-signed except the admin-gated
		// ones, which the dispatcher expects signed by the market admin
		// instead (SPEC_FULL.md §12).
		signer, signerID := owner, ownerID
		if in.Tag == instructions.TagSetRiskThreshold || in.Tag == instructions.TagSetOracleAuthority {
			signer, signerID = adminOwner, adminID
		}
		payload := encodeForSigning(in)
		sig, err := signer.SignInstruction(payload)
		if err != nil {
			sugar.Fatalw("sign_failed", "err", err)
		}
		if !auth.VerifyInstructionOwner(signerID, payload, sig) {
			sugar.Fatalw("signature_rejected")
		}

		switch in.Tag {
		case instructions.TagInitUser:
			idx, err := eng.AddUser(ownerID, in.InitUser.Fee)
			if err != nil {
				sugar.Errorw("init_user_failed", "err", err)
				os.Exit(1)
			}
			userIdx = idx
			sugar.Infow("init_user", "account_idx", idx)
		case instructions.TagDeposit:
			if err := eng.Deposit(userIdx, now, in.Deposit.Amount); err != nil {
				sugar.Errorw("deposit_failed", "account_idx", userIdx, "err", err)
				os.Exit(1)
			}
			sugar.Infow("deposit", "account_idx", userIdx, "amount", in.Deposit.Amount.String())
		case instructions.TagSetRiskThreshold:
			if err := eng.SetRiskThreshold(adminID, in.SetRiskThreshold.NewThreshold); err != nil {
				sugar.Errorw("set_risk_threshold_failed", "err", err)
				os.Exit(1)
			}
			sugar.Infow("set_risk_threshold", "new_threshold", in.SetRiskThreshold.NewThreshold.String())
		case instructions.TagSetOracleAuthority:
			if err := eng.SetOracleAuthority(adminID, in.SetOracleAuthority.NewAuthority); err != nil {
				sugar.Errorw("set_oracle_authority_failed", "err", err)
				os.Exit(1)
			}
			sugar.Infow("set_oracle_authority", "new_authority", in.SetOracleAuthority.NewAuthority.Hex())
		case instructions.TagCloseSlab:
			if err := eng.CloseSlab(); err != nil {
				sugar.Errorw("close_slab_failed", "err", err)
				os.Exit(1)
			}
			sugar.Infow("slab_closed")
		}
	}

	lpOwner, err := auth.GenerateKey()
	if err != nil {
		sugar.Fatalw("lp_keygen_failed", "err", err)
	}
	lpIdx, err := eng.AddLP(lpOwner.OwnerID(), identity.ID{}, identity.ID{}, fx128.ZeroU128())
	if err != nil {
		sugar.Fatalw("init_lp_failed", "err", err)
	}
	sugar.Infow("init_lp", "account_idx", lpIdx)

	if err := eng.Deposit(lpIdx, now, fx128.U128FromUint64(10_000_000_000)); err != nil {
		sugar.Fatalw("lp_deposit_failed", "err", err)
	}

	tradeSize := fx128.I128FromInt64(100)
	if err := eng.ExecuteTrade(matcher.NoOpMatcher{}, userIdx, lpIdx, now, oraclePriceE6, tradeSize, true); err != nil {
		sugar.Errorw("trade_failed", "err", err)
	} else {
		sugar.Infow("trade_executed", "user_idx", userIdx, "lp_idx", lpIdx, "size", tradeSize.String())
	}

	if err := eng.KeeperCrank(engine.NoCaller, identity.ID{}, now+1, oraclePriceE6); err != nil {
		sugar.Errorw("crank_failed", "err", err)
	} else {
		sugar.Infow("crank_complete", "slot", now+1)
	}

	if err := store.Save(demoMarketID, sl); err != nil {
		sugar.Fatalw("slab_save_failed", "err", err)
	}
	sugar.Infow("slab_saved", "market_id", demoMarketID.Hex(), "data_dir", cfg.Node.DataDir)
}

// encodeForSigning builds the bytes an owner signs to authorize an
// instruction: the tag byte followed by whatever scalar fields the
// instruction carries that aren't already implied by the account index
// the dispatcher resolves separately. This is a minimal stand-in for a
// real wire encoder (out of scope per spec.md §1 — only the decoder
// contract is this module's concern) good enough to exercise the
// owner-signature gate end to end.
func encodeForSigning(in instructions.Instruction) []byte {
	b := []byte{byte(in.Tag)}
	switch in.Tag {
	case instructions.TagInitUser:
		amt := in.InitUser.Fee.Bytes16()
		b = append(b, amt[:]...)
	case instructions.TagDeposit:
		amt := in.Deposit.Amount.Bytes16()
		b = append(b, amt[:]...)
	case instructions.TagSetRiskThreshold:
		amt := in.SetRiskThreshold.NewThreshold.Bytes16()
		b = append(b, amt[:]...)
	}
	var pad [8]byte
	binary.LittleEndian.PutUint64(pad[:], uint64(len(b)))
	return append(b, pad[:]...)
}
