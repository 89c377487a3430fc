package comm

import "context"

// LocalGroup is one rank of an in-process world. Ranks exchange messages
// through each other's mailboxes, which makes a LocalWorld a faithful
// stand-in for a multi-process group in tests and single-host runs.
type LocalGroup struct {
	rank    int
	world   []*LocalGroup
	mailbox *Mailbox
	sendSeq *sequencer
	recvSeq *sequencer
}

// LocalWorld creates size connected in-process ranks.
func LocalWorld(size int) []*LocalGroup {
	world := make([]*LocalGroup, size)
	for r := range world {
		world[r] = &LocalGroup{
			rank:    r,
			world:   world,
			mailbox: NewMailbox(),
			sendSeq: newSequencer(),
			recvSeq: newSequencer(),
		}
	}
	return world
}

// Rank returns this rank's index.
func (g *LocalGroup) Rank() int { return g.rank }

// Size returns the number of ranks in the world.
func (g *LocalGroup) Size() int { return len(g.world) }

// Mailbox returns this rank's inbound mailbox.
func (g *LocalGroup) Mailbox() *Mailbox { return g.mailbox }

// Isend copies data into dest's mailbox. The copy happens on a separate
// goroutine so the call never blocks.
func (g *LocalGroup) Isend(ctx context.Context, dest int, tag Tag, data []byte) *Request {
	if err := checkPeer(g, dest); err != nil {
		return failed(describe("send", g.rank, dest, tag, 0), err)
	}
	seq := g.sendSeq.take(dest, tag)
	req := newRequest(describe("send", g.rank, dest, tag, seq))
	env := Envelope{Src: g.rank, Tag: tag, Seq: seq}
	go func() {
		if err := ctx.Err(); err != nil {
			req.complete(err)
			return
		}
		msg := make([]byte, len(data))
		copy(msg, data)
		req.complete(g.world[dest].mailbox.Deliver(env, msg))
	}()
	return req
}

// Irecv posts a receive from src.
func (g *LocalGroup) Irecv(ctx context.Context, src int, tag Tag, buf []byte) *Request {
	if err := checkPeer(g, src); err != nil {
		return failed(describe("recv", src, g.rank, tag, 0), err)
	}
	seq := g.recvSeq.take(src, tag)
	env := Envelope{Src: src, Tag: tag, Seq: seq}
	return postRecv(ctx, g.mailbox, env, buf, describe("recv", src, g.rank, tag, seq))
}

// Abort fails every pending receive on this rank.
func (g *LocalGroup) Abort(err error) { g.mailbox.Abort(err) }
