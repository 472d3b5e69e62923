// Package dstore implements a replicated cache store using the Dragonboat RAFT
// consensus library. It provides an implementation of the store.IStore interface
// that operates across multiple nodes while keeping every replica identical.
//
// Architecture:
//
//   - Store Client: Implements store.IStore. It serializes operations into
//     commands, proposes them to the RAFT cluster and decodes the results.
//
//   - State Machine: A Dragonboat IConcurrentStateMachine that owns the actual
//     db.KVDB instance and applies commands to it.
//
//   - Communication Protocol: Command, Result and Query structures defined in the
//     internal package.
//
// Write Operations:
//
//	1. The operation is serialized into a Command, stamped with the unix time of
//	   the proposing node
//	2. The Command is proposed to the RAFT cluster via SyncPropose
//	3. Once committed, every replica applies the command with the raft log index
//	   as write index (Update method in statemachine.go)
//	4. The Result travels back: the return code in the Value field, the encoded
//	   Result (new CAS token, counter value, touched item) in the Data field
//
//	The raft log index becomes the CAS token of the written item. Tokens are
//	therefore identical on all replicas and survive a leader change.
//
// Read Operations:
//
//   - Linearizable Reads: Get uses SyncRead, the node processing the read has
//     applied all committed log entries before it answers.
//
//   - Stale Reads: GetDBInfo uses StaleRead.
//
// Error Handling and Retries:
//
//   - System Busy: When Dragonboat returns ErrSystemBusy, the proposal is retried
//     after a short delay. Once all retries are used up the store returns RetCBusy.
//
//   - Circuit Breaker: Proposals run through a sony/gobreaker circuit breaker. When
//     most proposals of an interval fail (lost quorum, timeouts) the breaker opens
//     and writes fail fast with RetCBusy, the memcached front end answers them with
//     a temporary failure instead of blocking a worker for the full timeout.
//
//   - Conditional Outcomes: NotFound, Exists, NotStored and NonNumeric are regular
//     results of an applied command. They are returned as *store.Error and do not
//     count as failures for the breaker.
//
// Snapshotting and Recovery:
//
//   - Fuzzy Snapshots: The state machine creates snapshots without pausing
//     operations, leveraging the db.KVDB's Save method.
//
//   - Recovery: Nodes restore the most recent snapshot with db.KVDB's Load and
//     replay the log entries committed after it.
//
// Example:
//
//	nh, err := dragonboat.NewNodeHost(nodeHostConfig)
//	if err != nil { ... }
//
//	dbFactory := func() db.KVDB { return maple.NewMapleDB(nil) }
//	err = nh.StartConcurrentReplica(
//	    clusterMembers,
//	    false,
//	    dstore.CreateStateMaschineFactory(dbFactory),
//	    shardConfig)
//	if err != nil { ... }
//
//	cache := dstore.NewDistributedStore(nh, shardID, 5*time.Second)
package dstore
