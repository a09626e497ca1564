package database

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/weavedata/weave/config"
	"github.com/weavedata/weave/model"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

// StoreOptions carries the leasing identity of a datasource. Every process
// (and every test) gets its own owner id so leases taken by one worker
// process are invisible work for another.
type StoreOptions struct {
	OwnerID       string
	LeaseDuration time.Duration
	Clock         model.Clock
}

func (o StoreOptions) withDefaults() StoreOptions {
	if o.OwnerID == "" {
		o.OwnerID = uuid.New().String()
	}
	if o.LeaseDuration <= 0 {
		o.LeaseDuration = 60 * time.Second
	}
	if o.Clock == nil {
		o.Clock = model.SystemClock{}
	}
	return o
}

// Datasource is the Postgres-backed store.
type Datasource struct {
	Conn          *sql.DB
	ownerID       string
	leaseDuration time.Duration
	clock         model.Clock
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		opts := StoreOptions{
			LeaseDuration: time.Duration(configuration.Negotiation.LeaseDurationMillis) * time.Millisecond,
		}.withDefaults()
		instance = NewPostgresDatasource(con, opts)
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// NewPostgresDatasource wraps an existing connection. Used directly by tests
// and by anything that needs a datasource with its own lease owner.
func NewPostgresDatasource(conn *sql.DB, opts StoreOptions) *Datasource {
	opts = opts.withDefaults()
	return &Datasource{
		Conn:          conn,
		ownerID:       opts.OwnerID,
		leaseDuration: opts.LeaseDuration,
		clock:         opts.Clock,
	}
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	return db, nil
}
