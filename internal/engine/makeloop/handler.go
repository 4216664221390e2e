package makeloop

import (
	"context"

	"go.forgemake.dev/forgemake/internal/core/domain"
	"go.forgemake.dev/forgemake/internal/core/ports"
)

// Start implements ports.JobServerHandler: a JobExec supervisor has dialed
// in claiming jobID, handed out earlier by submit/Submit. The StartReply
// returned is whatever was attached at submission time.
func (m *MakeLoop) Start(ctx context.Context, seqID, jobID uint32, host string, rpcPort int) (ports.StartReply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.pending[jobID]
	if !ok {
		return ports.StartReply{}, domain.ErrJobNotFound
	}
	delete(m.pending, jobID)
	run.seqID = seqID
	m.runningBy[jobID] = run

	if m.Telemetry != nil {
		job := m.Graph.GetJob(run.jobIdx)
		name := "job"
		if job != nil {
			name = job.Rule.String() + " -> " + job.Target.String()
		}
		_, vertex := m.Telemetry.Record(ctx, name)
		run.vertex = vertex
	}

	return run.reply, nil
}

// End implements ports.JobServerHandler (§4.5 step 4, end(job)): acquire
// the digest, update target CRCs, record deps, transition the job to Done
// and wake every Req waiting on it.
func (m *MakeLoop) End(_ context.Context, seqID, jobID uint32, digest domain.JobDigest) error {
	m.mu.Lock()
	run, ok := m.runningBy[jobID]
	if !ok || run.seqID != seqID {
		m.mu.Unlock()
		return domain.ErrJobLost
	}
	delete(m.runningBy, jobID)
	m.mu.Unlock()

	job := m.Graph.GetJob(run.jobIdx)
	if job == nil {
		return domain.ErrJobNotFound
	}

	job.RunStatus = digest.Status
	job.EndChrono = domain.JobChrono(m.jobChrono.Advance())

	// On error the job is deemed to produce every potential target so that
	// dependents surface the error rather than a missing file (§7).
	producer := digest.Producer()
	for _, t := range digest.Targets {
		idx := m.Graph.NodeIdx(t.Path)
		node := m.Graph.GetNode(idx)
		node.ProducingJob = run.jobIdx
		if producer {
			node.Digest = t.CRC
		} else {
			node.Digest = domain.CRC{Tag: domain.CRCNone}
		}
		node.Ddate = uint64(job.EndChrono)
		if !sliceContainsInt(job.StarTargets, idx) {
			job.StarTargets = append(job.StarTargets, idx)
		}
		if m.NodeStore != nil {
			_ = m.NodeStore.PutNode(node)
		}
	}

	staticDeps := job.StaticDeps[:0:0]
	for _, d := range digest.Deps {
		idx := m.Graph.NodeIdx(d.Path)
		staticDeps = append(staticDeps, idx)
	}
	job.StaticDeps = staticDeps

	switch digest.Status {
	case domain.RunStatusKilled:
		job.FinalStatus = domain.FinalStatusKilled
	case domain.RunStatusComplete:
		job.FinalStatus = domain.FinalStatusOk
	default:
		job.FinalStatus = domain.FinalStatusErr
	}

	if m.DigestStore != nil {
		_ = m.DigestStore.PutJobDigest(job.Rule.String(), job.Target.String(), &digest)
	}
	if run.vertex != nil {
		if producer {
			run.vertex.Complete(nil)
		} else {
			run.vertex.Complete(domain.ErrNoTarget)
		}
	}

	m.wakeJobWatchers(run.jobIdx)
	return nil
}

// ChkDeps implements ports.JobServerHandler: a mid-run query from the
// child asking whether the deps it has observed so far are still current.
func (m *MakeLoop) ChkDeps(_ context.Context, _, _ uint32, deps []domain.DepDigest) (ports.ChkDepsVerdict, error) {
	for _, d := range deps {
		idx := m.Graph.NodeIdx(d.Path)
		node := m.Graph.GetNode(idx)
		if node == nil || !node.Digest.IsSteady() {
			return ports.ChkDepsVerdict{UpToDate: false}, nil
		}
	}
	return ports.ChkDepsVerdict{UpToDate: true}, nil
}

// DepInfos implements ports.JobServerHandler: the current CRC for each
// path, computed on demand when never yet observed.
func (m *MakeLoop) DepInfos(_ context.Context, _, _ uint32, paths []string) ([]domain.CRC, error) {
	out := make([]domain.CRC, len(paths))
	for i, p := range paths {
		idx := m.Graph.NodeIdx(domain.NewInternedString(p))
		node := m.Graph.GetNode(idx)
		if node.Digest.IsSteady() {
			out[i] = node.Digest
			continue
		}
		if m.Hasher == nil {
			out[i] = domain.CRC{Tag: domain.CRCUnknown}
			continue
		}
		crc, err := m.Hasher.ComputeCRC(p)
		if err != nil {
			return nil, err
		}
		node.Digest = crc
		out[i] = crc
	}
	return out, nil
}

// LiveOut implements ports.JobServerHandler by forwarding chunk to the
// job's telemetry vertex, if one is recording.
func (m *MakeLoop) LiveOut(_ context.Context, _, jobID uint32, chunk []byte) error {
	m.mu.Lock()
	run, ok := m.runningBy[jobID]
	m.mu.Unlock()
	if !ok || run.vertex == nil {
		return nil
	}
	_, err := run.vertex.Stdout().Write(chunk)
	return err
}

func (m *MakeLoop) wakeJobWatchers(jobIdx int) {
	m.Graph.WakeJob(jobIdx)
}

func sliceContainsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
