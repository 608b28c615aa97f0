package subscription

import (
	"sync"
	"sync/atomic"
)

// Data is the raw content of one organization's snapshot.
type Data struct {
	Applications        []Application
	KeyMappings         []ApplicationKeyMapping
	ApplicationMappings []ApplicationMapping
	Subscriptions       []Subscription
	Issuers             []*IssuerBinding
}

// Snapshot is an immutable, indexed view of one organization's data.
type Snapshot struct {
	applications  map[string]*Application
	keyMappings   map[KeyMappingKey]*ApplicationKeyMapping
	appMappings   map[string][]*ApplicationMapping
	subscriptions map[string]*Subscription
	byAppAndAPI   map[appAPIKey]*Subscription
	issuers       map[string][]*IssuerBinding
}

type appAPIKey struct {
	app string
	api string
}

// NewSnapshot indexes data. The slices are copied; later changes to data
// do not affect the snapshot.
func NewSnapshot(data Data) *Snapshot {
	s := &Snapshot{
		applications:  make(map[string]*Application, len(data.Applications)),
		keyMappings:   make(map[KeyMappingKey]*ApplicationKeyMapping, len(data.KeyMappings)),
		appMappings:   make(map[string][]*ApplicationMapping),
		subscriptions: make(map[string]*Subscription, len(data.Subscriptions)),
		byAppAndAPI:   make(map[appAPIKey]*Subscription),
		issuers:       make(map[string][]*IssuerBinding),
	}

	for i := range data.Applications {
		app := data.Applications[i]
		s.applications[app.UUID] = &app
	}
	for i := range data.KeyMappings {
		mapping := data.KeyMappings[i]
		s.keyMappings[mapping.Key()] = &mapping
	}
	for i := range data.ApplicationMappings {
		mapping := data.ApplicationMappings[i]
		s.appMappings[mapping.ApplicationRef] = append(s.appMappings[mapping.ApplicationRef], &mapping)
	}
	for i := range data.Subscriptions {
		sub := data.Subscriptions[i]
		sub.compile()
		s.subscriptions[sub.UUID] = &sub
		if sub.ApplicationUUID != "" && sub.APIUUID != "" {
			s.byAppAndAPI[appAPIKey{app: sub.ApplicationUUID, api: sub.APIUUID}] = &sub
		}
	}
	for _, binding := range data.Issuers {
		if binding == nil {
			continue
		}
		s.issuers[binding.Issuer] = append(s.issuers[binding.Issuer], binding)
	}

	return s
}

// Store serves lookups for one organization.
type Store struct {
	organization string
	snapshot     atomic.Pointer[Snapshot]
}

// NewStore creates an empty store for organization.
func NewStore(organization string) *Store {
	s := &Store{organization: organization}
	s.snapshot.Store(NewSnapshot(Data{}))
	return s
}

// Organization returns the organization the store serves.
func (s *Store) Organization() string {
	return s.organization
}

// Replace swaps in a new snapshot.
func (s *Store) Replace(snapshot *Snapshot) {
	s.snapshot.Store(snapshot)
}

func (s *Store) current() *Snapshot {
	return s.snapshot.Load()
}

// Application returns the application with uuid.
func (s *Store) Application(uuid string) (*Application, bool) {
	app, ok := s.current().applications[uuid]
	return app, ok
}

// KeyMapping returns the key mapping for key. A mapping registered for all
// environments is used when no environment specific mapping exists.
func (s *Store) KeyMapping(key KeyMappingKey) (*ApplicationKeyMapping, bool) {
	snap := s.current()
	if mapping, ok := snap.keyMappings[key]; ok {
		return mapping, true
	}
	key.Environment = AllEnvironments
	mapping, ok := snap.keyMappings[key]
	return mapping, ok
}

// ApplicationMappings returns the mappings of an application.
func (s *Store) ApplicationMappings(appUUID string) []*ApplicationMapping {
	return s.current().appMappings[appUUID]
}

// Subscription returns the subscription with uuid.
func (s *Store) Subscription(uuid string) (*Subscription, bool) {
	sub, ok := s.current().subscriptions[uuid]
	return sub, ok
}

// SubscriptionFor returns the subscription of an application to an API.
func (s *Store) SubscriptionFor(appUUID, apiUUID string) (*Subscription, bool) {
	sub, ok := s.current().byAppAndAPI[appAPIKey{app: appUUID, api: apiUUID}]
	return sub, ok
}

// SubscriptionsOf resolves every subscription reachable through the
// application's mappings.
func (s *Store) SubscriptionsOf(appUUID string) []*Subscription {
	snap := s.current()
	mappings := snap.appMappings[appUUID]
	subs := make([]*Subscription, 0, len(mappings))
	for _, mapping := range mappings {
		if sub, ok := snap.subscriptions[mapping.SubscriptionRef]; ok {
			subs = append(subs, sub)
		}
	}
	return subs
}

// Issuer returns the binding for issuer in environment.
func (s *Store) Issuer(issuer, environment string) (*IssuerBinding, bool) {
	for _, binding := range s.current().issuers[issuer] {
		if binding.AppliesTo(environment) {
			return binding, true
		}
	}
	return nil, false
}

// Registry holds one Store per organization.
type Registry struct {
	mu     sync.RWMutex
	stores map[string]*Store
	loaded atomic.Bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]*Store)}
}

// Store returns the store of organization.
func (r *Registry) Store(organization string) (*Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	store, ok := r.stores[organization]
	return store, ok
}

// Organizations returns the number of known organizations.
func (r *Registry) Organizations() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stores)
}

// Apply replaces the data of every organization in snapshots. Stores of
// organizations missing from snapshots are emptied but kept, so references
// held by running components stay valid.
func (r *Registry) Apply(snapshots map[string]*Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for org, snapshot := range snapshots {
		store, ok := r.stores[org]
		if !ok {
			store = NewStore(org)
			r.stores[org] = store
		}
		store.Replace(snapshot)
	}
	for org, store := range r.stores {
		if _, ok := snapshots[org]; !ok {
			store.Replace(NewSnapshot(Data{}))
		}
	}
	r.loaded.Store(true)
}

// Ready reports whether at least one snapshot has been applied.
func (r *Registry) Ready() bool {
	return r.loaded.Load()
}
