package zhe

import (
	"time"

	"github.com/topcatse/zhe-go/internal/bitset"
	"github.com/topcatse/zhe-go/internal/constants"
	"github.com/topcatse/zhe-go/internal/declare"
	"github.com/topcatse/zhe-go/internal/framing"
	"github.com/topcatse/zhe-go/internal/inconduit"
	"github.com/topcatse/zhe-go/internal/logging"
	"github.com/topcatse/zhe-go/internal/packer"
	"github.com/topcatse/zhe-go/internal/pubsub"
	"github.com/topcatse/zhe-go/internal/session"
	"github.com/topcatse/zhe-go/internal/vle"
	"github.com/topcatse/zhe-go/internal/wireproto"
	"github.com/topcatse/zhe-go/internal/xmitwindow"
)

// Engine is the top-level driver (spec.md §6 "Application interface").
// It implements the single-peer client-mode topology (MAX_PEERS==0): one
// configured broker address, scouted, opened, and driven through
// internal/session's state machine; declarations and samples flow over
// one unicast outgoing conduit and N_IN_CONDUITS incoming conduits.
//
// Broker-mode (accepting many peers on fresh source addresses) is not
// wired up by this Engine; see DESIGN.md for why that is scoped out.
type Engine struct {
	cfg       Config
	clock     Clock
	transport Transport
	Metrics   *Metrics
	Log       *logging.Logger

	reg     *pubsub.Registry
	declare *declare.Pipeline
	peer    *session.Peer

	pk  *packer.Packer
	oc  *xmitwindow.OutConduit
	ics []*inconduit.InConduit

	// reassembler is constructed in TransportStream mode, but Loop does not
	// feed it: every Recv result goes to handlePacket as one whole packet.
	reassembler *framing.StreamReassembler

	recvBuf       []byte
	curCid        int    // conduit selected by the most recent in-packet CONDUIT switch
	ucSeq         uint32 // next outgoing unreliable sequence
	commitCounter uint64
	pendingCommit uint64
}

// Init constructs an Engine over cfg, transport and clock (spec.md §6
// "init() -> status"). It does not yet start scouting; call LoopInit for
// that.
func Init(cfg Config, transport Transport, clock Clock) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:       cfg,
		clock:     clock,
		transport: transport,
		Metrics:   NewMetrics(),
		Log:       logging.NewLogger(logging.DefaultConfig()),
		reg:       pubsub.New(cfg.MaxPubs, cfg.MaxSubs),
		declare:   declare.New(cfg.MaxPubs, constants.DefaultResourceNameArenaBytes),
		oc:        xmitwindow.New(cfg.XmitWindowBytes, cfg.SeqnumUnit(), cfg.MSynchInterval),
		recvBuf:   make([]byte, cfg.TransportMTU),
	}
	for i := 0; i < cfg.NInConduits; i++ {
		e.ics = append(e.ics, inconduit.New(cfg.SeqnumUnit()))
	}
	e.pk = packer.New(cfg.TransportMTU, cfg.LatencyBudget, cfg.MSynchInterval, e.flushPacket)
	if cfg.TransportMode == constants.TransportStream {
		e.reassembler = framing.New(cfg.TransportMTU, constants.StreamIdleResetDuration)
	}
	return e, nil
}

// LoopInit starts the session state machine (spec.md §6 "loop_init(now)").
func (e *Engine) LoopInit(now time.Time) {
	e.peer = session.New(now)
}

// IsOperational reports whether the session has completed scout/open/accept
// and is exchanging declarations and samples (spec.md §4.6 OPERATIONAL).
func (e *Engine) IsOperational() bool {
	return e.peer != nil && e.peer.IsEstablished()
}

// Publish registers a local publication (spec.md §4.7 publish()). No
// declaration is sent to the broker for it: emitDeclareBatch clears its
// declare-queue mark without emitting a DPUB.
func (e *Engine) Publish(rid uint64, reliable bool) (int, bool) {
	idx, ok := e.reg.Publish(rid, reliable, 0)
	if ok {
		e.Metrics.DeclaresSent.Add(0) // no-op: publications are never declared
	}
	return idx, ok
}

// Subscribe registers a local subscription (spec.md §4.7 subscribe()).
func (e *Engine) Subscribe(rid uint64, xmitneed int, handler pubsub.Handler) (int, bool) {
	return e.reg.Subscribe(rid, xmitneed, 0, handler)
}

// Write publishes one sample on pubidx (spec.md §4.7 write()).
func (e *Engine) Write(pubidx int, payload []byte) bool {
	now := e.clock.Now()
	result := e.reg.Write(pubidx, payload, e.declare.Applied, e.reserveReliable(now, payload), e.reserveUnreliable(now, payload))
	switch result {
	case pubsub.WriteOK:
		e.Metrics.SamplesWritten.Add(1)
		if e.cfg.LatencyBudget == constants.LatencyBudgetFlushEveryWrite {
			e.pk.Flush(now)
		}
		return true
	case pubsub.WriteNoSubscriber:
		e.Metrics.NoSubscriberWrites.Add(1)
		return true
	case pubsub.WriteUnreliableDropped:
		e.Metrics.UnreliableDropped.Add(1)
		e.Log.Debug("sample dropped: unreliable conduit full", "pubidx", pubidx)
		return true
	default: // WriteReliableFull
		e.Metrics.ReliableWriteFull.Add(1)
		e.Log.Warn("write dropped: reliable window full", "pubidx", pubidx)
		return false
	}
}

// reserveReliable builds the full wire message (header, rid, the
// sequence this sample will be assigned, and the payload vector) up
// front so the exact same bytes can both go out now and be replayed
// verbatim by xmitwindow.Retransmit later (spec.md §4.2: stored samples
// are "the serialized message").
func (e *Engine) reserveReliable(now time.Time, _ []byte) pubsub.Reserve {
	return func(pub pubsub.Publication, payload []byte) (full bool) {
		seq := e.oc.Seq()
		msg := wireproto.EncodeSDataHeader(nil, wireproto.FlagR, pub.Rid)
		msg = vle.AppendUint64(msg, uint64(seq))
		msg = vle.AppendVec(msg, payload)
		if e.oc.FreeBytes() < 2+len(msg) {
			return true
		}
		e.pk.Reserve(now, e.peerAddr(), e.oc, len(msg))
		e.pk.BeginReliable()
		if err := e.oc.BeginAppend(); err != nil {
			return true
		}
		e.pk.PackCopyRel(e.oc, msg)
		e.oc.FinishAppend(now)
		e.Metrics.SamplesPublished.Add(1)
		return false
	}
}

func (e *Engine) reserveUnreliable(now time.Time, _ []byte) pubsub.Reserve {
	return func(pub pubsub.Publication, payload []byte) (full bool) {
		hdr := wireproto.EncodeSDataHeader(nil, 0, pub.Rid)
		hdr = vle.AppendUint64(hdr, uint64(e.ucSeq))
		hdr = vle.AppendVec(hdr, payload)
		e.ucSeq += e.cfg.SeqnumUnit()
		e.pk.Reserve(now, e.peerAddr(), nil, len(hdr))
		e.pk.PackBytes(hdr)
		e.Metrics.SamplesPublished.Add(1)
		return false
	}
}

func (e *Engine) peerAddr() Address {
	if e.cfg.TransportMode == constants.TransportStream {
		return e.transport.Broadcast()
	}
	return e.transport.Broadcast()
}

func (e *Engine) flushPacket(dst packer.Dest, buf []byte) {
	if len(buf) == 0 {
		return
	}
	addr, _ := dst.(Address)
	n, err := e.transport.Send(addr, buf)
	if err != nil || n != len(buf) {
		e.Log.Error("transport send failed", "err", err)
		panic(WrapFatal("transport_send", CodeTransportSendFailed, orErr(err)))
	}
	e.Metrics.PacketsSent.Add(1)
	e.Metrics.BytesSent.Add(uint64(n))
}

func orErr(err error) error {
	if err != nil {
		return err
	}
	return NewError("transport_send", CodeTransportSendFailed, "short write")
}

// Loop drives one iteration of the protocol (spec.md §6 "loop(now) ->
// next_deadline"): it drains available inbound datagrams, advances the
// session state machine's timers, flushes a due packer deadline, and
// returns the next time the caller should invoke Loop again.
func (e *Engine) Loop(now time.Time) time.Time {
	for {
		n, src, ok, err := e.transport.Recv(e.recvBuf)
		if err != nil {
			e.Log.Error("transport recv failed", "err", err)
			break
		}
		if !ok {
			break
		}
		e.Metrics.PacketsReceived.Add(1)
		e.Metrics.BytesReceived.Add(uint64(n))
		e.peer.OnInboundByte(now)
		e.handlePacket(now, src, e.recvBuf[:n])
	}

	e.peer.Tick(now, e.timing(), e)

	if e.peer.IsEstablished() {
		e.driveOperational(now)
	}

	if e.pk.DeadlineDue(now) {
		e.pk.Flush(now)
	}

	return e.nextDeadline(now)
}

func (e *Engine) timing() session.Timing {
	return session.Timing{
		WaitinputToScout: constants.WaitinputToScoutDuration,
		DrainToScout:     constants.DrainToScoutDuration,
		ScoutInterval:    e.cfg.ScoutInterval,
		OpenInterval:     e.cfg.OpenInterval,
		OpenRetries:      e.cfg.OpenRetries,
	}
}

func (e *Engine) nextDeadline(now time.Time) time.Time {
	next := now.Add(e.cfg.ScoutInterval)
	if e.pk.Len() > 0 && e.cfg.LatencyBudget > 0 {
		if d := now.Add(e.cfg.LatencyBudget); d.Before(next) {
			next = d
		}
	}
	return next
}

// session.Actions implementation.

func (e *Engine) SendScout() {
	now := e.clock.Now()
	buf := wireproto.EncodeScout(nil, 0)
	e.pk.Reserve(now, e.transport.Broadcast(), nil, len(buf))
	e.pk.PackBytes(buf)
	e.pk.Flush(now)
	e.Metrics.ScoutsSent.Add(1)
	e.Log.Debug("scouting for broker")
}

func (e *Engine) SendOpen(retry int) {
	now := e.clock.Now()
	buf := wireproto.EncodeOpen(nil, wireproto.FlagR, e.cfg.PeerID, e.cfg.LeaseDeciseconds)
	e.pk.Reserve(now, e.transport.Broadcast(), nil, len(buf))
	e.pk.PackBytes(buf)
	e.pk.Flush(now)
	e.Log.Debug("sending open", "retry", retry)
}

func (e *Engine) SendInitialDeclare() {
	now := e.clock.Now()
	e.emitDeclareBatch(now)
}

func (e *Engine) CloseAndScout() {
	e.declare.Reset()
	e.reg.RequeueAllForDeclare()
	e.Metrics.SessionsClosed.Add(1)
	e.Log.Info("session closed, returning to scout")
}

// driveOperational implements the OPERATIONAL-state per-tick work (spec.md
// §4.6): SYNCH on any OC with samples past its deadline, flush on latency
// deadline, drain the declare queues into DECLARE/DCOMMIT.
func (e *Engine) driveOperational(now time.Time) {
	if e.oc.SynchDue(now) {
		e.sendSynch(now)
	}
	if e.reg.PubsToDeclare.FindFirst() >= 0 || e.reg.SubsToDeclare.FindFirst() >= 0 {
		e.emitDeclareBatch(now)
	}
}

func (e *Engine) sendSynch(now time.Time) {
	buf := wireproto.EncodeSynch(nil, 0, e.oc.SeqBase(), uint32(e.oc.NSamples()))
	e.pk.Reserve(now, e.transport.Broadcast(), nil, len(buf))
	e.pk.PackBytes(buf)
	e.oc.ClearSynch()
	e.Metrics.SynchSent.Add(1)
}

// emitDeclareBatch drains every pending subscription declaration into one
// DECLARE message ending in a DCOMMIT; pending publication marks are
// cleared without emitting any declaration (spec.md §4.6 "drain
// pubs_to_declare and subs_to_declare into DECLARE messages, committing
// when both queues are empty and must_commit is set").
func (e *Engine) emitDeclareBatch(now time.Time) {
	var decls [][]byte
	for i := 0; i < e.reg.NPubs(); i++ {
		if e.reg.PubsToDeclare.Test(i) {
			// Publications are declared implicitly by the broker learning
			// the rid from the first SDATA it forwards; this engine only
			// declares subscriptions (DSUB), matching the client-mode
			// "declare what I need delivered" half of the handshake.
			e.reg.PubsToDeclare.Clear(i)
		}
	}
	for i := 0; i < e.reg.NSubs(); i++ {
		if e.reg.SubsToDeclare.Test(i) {
			sub := e.reg.Sub(i)
			decls = append(decls, wireproto.EncodeDeclSub(nil, sub.Rid, wireproto.SubModePush))
			e.reg.SubsToDeclare.Clear(i)
		}
	}
	if len(decls) == 0 {
		return
	}
	e.commitCounter++
	decls = append(decls, wireproto.EncodeDeclCommit(nil, e.commitCounter))
	e.pendingCommit = e.commitCounter

	seq := e.oc.Seq()
	env := wireproto.EncodeDeclareEnvelope(nil, wireproto.FlagR, seq, len(decls))
	total := len(env)
	for _, d := range decls {
		total += len(d)
	}
	if e.oc.FreeBytes() < total+2 {
		e.Metrics.DeclareWindowFull.Add(1)
		return
	}
	e.pk.Reserve(now, e.transport.Broadcast(), e.oc, total)
	e.pk.BeginReliable()
	if err := e.oc.BeginAppend(); err != nil {
		return
	}
	e.pk.PackCopyRel(e.oc, env)
	for _, d := range decls {
		e.pk.PackCopyRel(e.oc, d)
	}
	e.oc.FinishAppend(now)
	e.Metrics.DeclaresSent.Add(1)
	e.Metrics.DCommitsSent.Add(1)
}

// handlePacket decodes and dispatches every message in one inbound
// datagram (spec.md §6, §4.6 "any state >= SCOUT: incoming packet ->
// handle_packet").
func (e *Engine) handlePacket(now time.Time, src Address, buf []byte) {
	e.curCid = 0
	for len(buf) > 0 {
		h := wireproto.DecodeHeader(buf[0])
		rest := buf[1:]
		consumed, ok := e.handleMessage(now, src, h, rest)
		if !ok {
			e.Log.Warn("malformed message, dropping rest of packet", "kind", h.Kind)
			return // malformed: abandon remainder of packet (spec.md §7)
		}
		buf = rest[consumed:]
	}
}

func (e *Engine) handleMessage(now time.Time, src Address, h wireproto.Header, buf []byte) (consumed int, ok bool) {
	switch h.Kind {
	case wireproto.KindScout:
		// This Engine never acts as a broker, so a peer SCOUT (from
		// another client sharing the broadcast group) is simply ignored.
		return 0, true

	case wireproto.KindOpen:
		_, _, n, err := wireproto.DecodeOpen(buf)
		if err != nil {
			return 0, false
		}
		return n, true

	case wireproto.KindHello:
		brokerBit, _, n, err := wireproto.DecodeHello(buf)
		if err != nil {
			return 0, false
		}
		e.peer.OnHello(now, brokerBit, e.timing(), e)
		e.Log.Debug("hello received, opening", "broker_bit", brokerBit)
		return n, true

	case wireproto.KindAccept:
		_, brokerID, lease, n, err := wireproto.DecodeAccept(buf)
		if err != nil {
			return 0, false
		}
		e.peer.OnAccept(now, brokerID, lease, e)
		e.peer.OnPacketReceived(now, lease)
		e.Metrics.SessionsOpened.Add(1)
		e.Log.Info("session established", "broker_id", string(brokerID))
		return n, true

	case wireproto.KindSynch:
		seqbase, cnt, n, err := wireproto.DecodeSynch(buf)
		if err != nil {
			return 0, false
		}
		e.ic(e.curCid).ReceiveSynch(seqbase, cnt)
		e.Metrics.SynchReceived.Add(1)
		e.maybeAckNack(now, h.HasFlag(wireproto.FlagS))
		e.peer.OnPacketReceived(now, 0)
		return n, true

	case wireproto.KindAckNack:
		ackSeq, mask, n, err := wireproto.DecodeAckNack(buf, h.HasMask())
		if err != nil {
			return 0, false
		}
		e.Metrics.AckNackReceived.Add(1)
		m := bitset.Mask32(mask)
		_, lastSeq := e.oc.Retransmit(ackSeq, m, func(uint32, []byte) {})
		emit := e.retransmitOne(now)
		matched, _ := e.oc.Retransmit(ackSeq, m, func(seq uint32, msg []byte) {
			if seq == lastSeq {
				msg[0] |= byte(wireproto.FlagS) // msg is a fresh copy of the stored message
			}
			emit(seq, msg)
		})
		if matched {
			e.oc.ScheduleSynch(now)
		}
		e.oc.AckUpTo(ackSeq)
		e.peer.OnPacketReceived(now, 0)
		return n, true

	case wireproto.KindConduit:
		cid, n, err := wireproto.DecodeConduitSwitch(buf)
		if err != nil {
			return 0, false
		}
		e.curCid = cid
		return n, true

	case wireproto.KindKeepalive:
		e.peer.OnPacketReceived(now, 0)
		return 0, true

	case wireproto.KindClose:
		_, n, err := vle.DecodeVec(buf)
		if err != nil {
			return 0, false
		}
		e.CloseAndScout()
		return n, true

	case wireproto.KindDeclare:
		return e.handleDeclare(now, buf)

	case wireproto.KindSData:
		return e.handleSData(now, h, buf)

	default:
		return 0, false
	}
}

func (e *Engine) ic(cid int) *inconduit.InConduit {
	if cid < 0 || cid >= len(e.ics) {
		return e.ics[0]
	}
	return e.ics[cid]
}

// retransmitOne re-emits bytes exactly as originally stored in the
// transmit window — a complete serialized message, header included — so
// no re-encoding happens on retransmission (spec.md §4.2 Retransmit:
// "copy its bytes into a fresh outbound packet").
func (e *Engine) retransmitOne(now time.Time) func(seq uint32, msg []byte) {
	return func(seq uint32, msg []byte) {
		e.pk.Reserve(now, e.transport.Broadcast(), e.oc, len(msg))
		e.pk.BeginReliable()
		e.pk.PackBytes(msg)
		e.Metrics.ReliableRetransmits.Add(1)
	}
}

func (e *Engine) handleDeclare(now time.Time, buf []byte) (int, bool) {
	seq, nDecls, n0, err := wireproto.DecodeDeclareEnvelope(buf)
	if err != nil {
		return 0, false
	}
	off := n0
	e.declare.BeginPacket()
	lookup := e.reg.LookupPub
	for i := uint64(0); i < nDecls; i++ {
		kind, rest, err := wireproto.DecodeDecl(buf[off:])
		if err != nil {
			e.Log.Warn("malformed declaration kind byte, aborting DECLARE")
			e.declare.AbortPacket()
			return 0, false
		}
		off++
		switch kind {
		case wireproto.DeclResource:
			rid, name, n, err := wireproto.DecodeDeclResource(rest)
			if err != nil {
				e.Log.Warn("malformed RESOURCE declaration, aborting DECLARE")
				e.declare.AbortPacket()
				return 0, false
			}
			e.declare.RegisterResource(rid, name)
			e.Log.Debug("resource declared", "rid", rid, "name", string(name))
			off += n
		case wireproto.DeclSub:
			rid, mode, n, err := wireproto.DecodeDeclSub(rest)
			if err != nil {
				e.Log.Warn("malformed DSUB declaration, aborting DECLARE")
				e.declare.AbortPacket()
				return 0, false
			}
			e.declare.RegisterSub(rid, mode, lookup)
			off += n
		case wireproto.DeclCommit:
			commitID, n, err := wireproto.DecodeDeclCommit(rest)
			if err != nil {
				e.Log.Warn("malformed DCOMMIT declaration, aborting DECLARE")
				e.declare.AbortPacket()
				return 0, false
			}
			e.declare.RequestCommit(commitID)
			off += n
		case wireproto.DeclResult:
			_, status, _, n, err := wireproto.DecodeDeclResult(rest)
			if err != nil {
				e.declare.AbortPacket()
				return 0, false
			}
			off += n
			e.Metrics.DResultsReceived.Add(1)
			if status != 0 {
				e.Metrics.DResultFailures.Add(1)
				panic(WrapFatal("dresult", CodeBrokerDResultFailed, NewError("dresult", CodeBrokerDResultFailed, "non-zero status")))
			}
		default:
			e.declare.RegisterSelection(0)
		}
	}
	if e.declare.MustCommit() && e.oc.FreeBytes() < wireproto.WCDResultSize {
		// No room for the DRESULT reply: drop this DECLARE without
		// advancing the cursor, so the sender retransmits it.
		e.Metrics.DeclareWindowFull.Add(1)
		e.declare.AbortPacket()
		return off, true
	}
	e.declare.CommitPacket()
	e.Metrics.DeclaresReceived.Add(1)
	ic := e.ic(e.curCid)
	ic.ReceiveReliable(seq, nil)
	if e.declare.MustCommit() {
		commitID, result, errRid := e.declare.DCommit()
		if result == 0 {
			e.Log.Debug("declare committed", "commit_id", commitID)
		} else {
			e.Log.Warn("declare commit failed", "commit_id", commitID, "result", result, "rid", errRid)
		}
		e.sendDResult(now, commitID, result, errRid)
	}
	e.maybeAckNack(now, false)
	return off, true
}

func (e *Engine) sendDResult(now time.Time, commitID uint64, status byte, errRid uint64) {
	body := wireproto.EncodeDeclResult(nil, commitID, status, errRid)
	seq := e.oc.Seq()
	env := wireproto.EncodeDeclareEnvelope(nil, wireproto.FlagR, seq, 1)
	total := len(env) + len(body)
	e.pk.Reserve(now, e.transport.Broadcast(), e.oc, total)
	e.pk.BeginReliable()
	e.oc.BeginAppend()
	e.pk.PackCopyRel(e.oc, env)
	e.pk.PackCopyRel(e.oc, body)
	e.oc.FinishAppend(now)
}

func (e *Engine) handleSData(now time.Time, h wireproto.Header, buf []byte) (int, bool) {
	rid, n, err := wireproto.DecodeSDataHeader(buf)
	if err != nil {
		return 0, false
	}
	off := n
	ic := e.ic(e.curCid)
	if h.HasFlag(wireproto.FlagR) {
		seq, sn, err := vle.DecodeUint64(buf[off:])
		if err != nil {
			return 0, false
		}
		off += sn
		payload, pn, err := vle.DecodeVec(buf[off:])
		if err != nil {
			return 0, false
		}
		off += pn
		ic.ReceiveReliable(uint32(seq), func() {
			e.dispatchSample(rid, payload, ic)
		})
	} else {
		seq, sn, err := vle.DecodeUint64(buf[off:])
		if err != nil {
			return 0, false
		}
		off += sn
		payload, pn, err := vle.DecodeVec(buf[off:])
		if err != nil {
			return 0, false
		}
		off += pn
		ic.ReceiveUnreliable(uint32(seq), func() {
			e.dispatchSample(rid, payload, ic)
		})
	}
	e.maybeAckNack(now, h.HasFlag(wireproto.FlagS))
	e.peer.OnPacketReceived(now, 0)
	return off, true
}

func (e *Engine) dispatchSample(rid uint64, payload []byte, ic *inconduit.InConduit) {
	matched, delivered := e.reg.Dispatch(rid, payload, func(int) int { return e.oc.FreeBytes() })
	if !matched {
		return
	}
	if delivered {
		e.Metrics.SamplesDelivered.Add(1)
	} else {
		e.Metrics.SamplesBackpressure.Add(1)
		e.Log.Debug("sample dropped: subscriber xmitneed unmet", "rid", rid)
	}
}

func (e *Engine) maybeAckNack(now time.Time, sFlag bool) {
	ic := e.ic(e.curCid)
	if !ic.NeedsAckNack(sFlag) {
		return
	}
	mask := ic.AckNackMask()
	buf := wireproto.EncodeAckNack(nil, 0, ic.Seq(), uint32(mask))
	e.pk.Reserve(now, e.transport.Broadcast(), nil, len(buf))
	e.pk.PackBytes(buf)
	e.Metrics.AckNackSent.Add(1)
}
