package redis

import "fmt"

// pendingValue marks a reservation that has not been committed
const pendingValue = "pending"

// registrationKey returns the key holding a requester's reservation or record
func (s *Store) registrationKey(requesterID string) string {
	return fmt.Sprintf("%s:registration:%s", s.cfg.KeyPrefix, requesterID)
}

// indexKey returns the SET of committed requester ids
func (s *Store) indexKey() string {
	return fmt.Sprintf("%s:idx:registrations", s.cfg.KeyPrefix)
}
