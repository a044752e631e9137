package room

// Delivery is the outcome of one fan-out.
type Delivery struct {
	Sent    int
	Dropped int
}

// Broadcast sends payload to every member except sender. A member whose
// queue is full or closed is skipped; the others still receive it.
func (r *Room) Broadcast(sender Member, payload []byte) Delivery {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fanoutLocked(sender, payload)
}

// Edit upserts path and broadcasts payload in one critical section, so
// peers see edits in the order the snapshot applied them.
func (r *Room) Edit(sender Member, path, content string, payload []byte) Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyEditLocked(path, content)
	return r.fanoutLocked(sender, payload)
}

// ReplaceProject swaps the snapshot for files and broadcasts payload.
func (r *Room) ReplaceProject(sender Member, files map[string]string, payload []byte) Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = copyFiles(files)
	return r.fanoutLocked(sender, payload)
}

// caller holds mu (read or write)
func (r *Room) fanoutLocked(sender Member, payload []byte) Delivery {
	var d Delivery
	for m := range r.members {
		if m == sender {
			continue
		}
		if m.Send(payload) {
			d.Sent++
		} else {
			d.Dropped++
		}
	}

	r.broadcasts.Add(1)
	if d.Dropped > 0 {
		r.dropped.Add(uint64(d.Dropped))
	}
	return d
}
