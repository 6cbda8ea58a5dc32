package storage

// SetBeforeCommit installs a function that runs inside every atomic write
// right before it commits. Returning an error aborts the write.
func SetBeforeCommit(s *Store, fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.beforeCommit = fn
}
