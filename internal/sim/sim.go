package sim

import (
	"fmt"
	stdmath "math"

	"cosmossdk.io/log"
	"cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/openalpha/mktsim/internal/book"
	"github.com/openalpha/mktsim/internal/clearinghouse"
	"github.com/openalpha/mktsim/internal/config"
	"github.com/openalpha/mktsim/internal/dist"
	"github.com/openalpha/mktsim/internal/history"
	"github.com/openalpha/mktsim/internal/mempool"
	"github.com/openalpha/mktsim/internal/order"
	"github.com/openalpha/mktsim/internal/player"
	"github.com/openalpha/mktsim/internal/simlog"
)

// playerSnapshot is a (balance, inventory) pair taken right after
// setup, kept around so the end-of-run report can compute each
// player's profit as cur - init. Mirrors simulation.rs's
// init_player_s: HashMap<String, (f64, f64)> argument to
// calc_total_profit.
type playerSnapshot struct {
	bal math.LegacyDec
	inv math.LegacyDec
}

// Simulation wires every package's state together for one run: the
// shared books, mempool, clearing house, history, distribution set,
// and the block counter the three agent loops check for shutdown.
// Grounded on simulation.rs's Simulation struct, with bids_book/
// asks_book/mempool/history/block_num kept as plain struct fields
// rather than Rust's Arc<T> wrappers — Go's reference semantics make
// the extra indirection unnecessary.
type Simulation struct {
	logger log.Logger
	dists  *dist.Set
	consts config.Constants

	house    *clearinghouse.ClearingHouse
	pool     *mempool.MemPool
	bids     *book.Book
	asks     *book.Book
	hist     *history.History
	blockNum *BlockNum

	miner *player.Miner

	initial map[string]playerSnapshot

	bookSnapshot *simlog.Sink
}

// New builds and registers every player for a fresh run: one Miner,
// consts.NumInvestors Investors, and consts.NumMakers Makers (each a
// uniformly random behavioural sub-type). Grounded on
// simulation.rs's init_simulation.
func New(logger log.Logger, dists *dist.Set, consts config.Constants) (*Simulation, error) {
	house := clearinghouse.New(logger)
	bids := book.New(order.Bid)
	asks := book.New(order.Ask)
	pool := mempool.New()
	hist := history.New(consts.MarketType)
	blockNum := NewBlockNum()

	miner := player.NewMiner(genTraderID(player.TraderMiner))
	house.Register(miner)

	invs, err := setupInvestors(dists, consts)
	if err != nil {
		return nil, err
	}
	mkrs, err := setupMakers(dists, consts)
	if err != nil {
		return nil, err
	}

	invPlayers := make([]player.Player, len(invs))
	for i, inv := range invs {
		invPlayers[i] = inv
	}
	house.RegisterAll(invPlayers)

	mkrPlayers := make([]player.Player, len(mkrs))
	for i, mk := range mkrs {
		mkrPlayers[i] = mk
	}
	house.RegisterAll(mkrPlayers)

	s := &Simulation{
		logger:   logger,
		dists:    dists,
		consts:   consts,
		house:    house,
		pool:     pool,
		bids:     bids,
		asks:     asks,
		hist:     hist,
		blockNum: blockNum,
		miner:    miner,
	}
	s.snapshotInitialState()
	return s, nil
}

// decFromFloat converts a plain float64 config value (e.g.
// consts.FlowOrderOffset, consts.MakerInvTax) into a LegacyDec at
// microprecision, matching dist.decFromFloat's precision choice.
func decFromFloat(v float64) math.LegacyDec {
	return math.LegacyNewDecWithPrec(int64(stdmath.Round(v*1e6)), 6)
}

// genTraderID mints a unique id for a new player: the trader type
// name plus a random UUID suffix. Grounded on api/websocket/server.go's
// uuid.New().String() client-id pattern; the original's gen_trader_id
// format is not among the retained original_source files, so the
// concrete prefix is this module's own choice.
func genTraderID(t player.TraderT) string {
	return fmt.Sprintf("%s-%s", t, uuid.New().String())
}

// setupInvestors creates consts.NumInvestors Investors, each seeded
// with a sampled initial balance and inventory. Grounded on
// simulation.rs's setup_investors.
func setupInvestors(dists *dist.Set, consts config.Constants) ([]*player.Investor, error) {
	invs := make([]*player.Investor, 0, consts.NumInvestors)
	for i := 0; i < consts.NumInvestors; i++ {
		inv := player.NewInvestor(genTraderID(player.TraderInvestor))
		bal, err := dists.Sample(dist.InvestorBalance)
		if err != nil {
			return nil, fmt.Errorf("sim: couldn't setup investor balance: %w", err)
		}
		invVol, err := dists.Sample(dist.InvestorInventory)
		if err != nil {
			return nil, fmt.Errorf("sim: couldn't setup investor inventory: %w", err)
		}
		inv.UpdateBal(bal)
		inv.UpdateInv(invVol)
		invs = append(invs, inv)
	}
	return invs, nil
}

// setupMakers creates consts.NumMakers Makers, each a uniformly random
// behavioural sub-type, seeded with a sampled initial balance and
// inventory. Grounded on simulation.rs's setup_makers.
func setupMakers(dists *dist.Set, consts config.Constants) ([]*player.Maker, error) {
	mkrs := make([]*player.Maker, 0, consts.NumMakers)
	for i := 0; i < consts.NumMakers; i++ {
		makerType := player.MakerT(dists.Choose(3))
		mk := player.NewMaker(genTraderID(player.TraderMaker), makerType)
		bal, err := dists.Sample(dist.MakerBalance)
		if err != nil {
			return nil, fmt.Errorf("sim: couldn't setup maker balance: %w", err)
		}
		inv, err := dists.Sample(dist.MakerInventory)
		if err != nil {
			return nil, fmt.Errorf("sim: couldn't setup maker inventory: %w", err)
		}
		mk.UpdateBal(bal)
		mk.UpdateInv(inv)
		mkrs = append(mkrs, mk)
	}
	return mkrs, nil
}

// snapshotInitialState records every registered player's post-setup
// balance/inventory, the baseline calc_total_profit measures against.
func (s *Simulation) snapshotInitialState() {
	players := s.house.Players()
	s.initial = make(map[string]playerSnapshot, len(players))
	for id, p := range players {
		s.initial[id] = playerSnapshot{bal: p.GetBal(), inv: p.GetInv()}
	}
}

// makerTypeOf downcasts a player.Player to *player.Maker without the
// clearinghouse package needing to know the concrete type; it is
// threaded through every ClearingHouse call that needs to attribute
// profit to a maker sub-type.
func makerTypeOf(p player.Player) (int, bool) {
	mk, ok := p.(*player.Maker)
	if !ok {
		return 0, false
	}
	return int(mk.MakerType), true
}

// House, Books, MemPool, History and BlockNum expose the wired
// collaborators for callers (tests, the CLI) that need direct access
// beyond the agent loops, e.g. to seed deterministic scenarios.
func (s *Simulation) House() *clearinghouse.ClearingHouse { return s.house }
func (s *Simulation) Bids() *book.Book                    { return s.bids }
func (s *Simulation) Asks() *book.Book                    { return s.asks }
func (s *Simulation) MemPool() *mempool.MemPool           { return s.pool }
func (s *Simulation) History() *history.History           { return s.hist }
func (s *Simulation) BlockNum() *BlockNum                 { return s.blockNum }
func (s *Simulation) Miner() *player.Miner                { return s.miner }

// AttachSinks wires the append-only output sinks a run was configured
// with. Either argument may be nil to leave that sink disabled;
// callers (cmd/mktsimd) open these from the --player-log /
// --book-log flags once the config has been parsed.
func (s *Simulation) AttachSinks(playerAudit, bookSnapshot *simlog.Sink) {
	if playerAudit != nil {
		s.house.SetAuditSink(playerAudit)
	}
	s.bookSnapshot = bookSnapshot
}
