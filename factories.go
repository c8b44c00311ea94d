package forge

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	neturl "net/url"

	"github.com/taskforge/forge/config"

	amqpbroker "github.com/taskforge/forge/brokers/amqp"
	eagerbroker "github.com/taskforge/forge/brokers/eager"
	brokeriface "github.com/taskforge/forge/brokers/iface"
	redisbroker "github.com/taskforge/forge/brokers/redis"
	sqsbroker "github.com/taskforge/forge/brokers/sqs"

	eagerbackend "github.com/taskforge/forge/backends/eager"
	backendiface "github.com/taskforge/forge/backends/iface"
	memcachebackend "github.com/taskforge/forge/backends/memcache"
	mongobackend "github.com/taskforge/forge/backends/mongo"
	redisbackend "github.com/taskforge/forge/backends/redis"
)

// BrokerFactory creates a new object of iface.Broker
// Currently supported brokers are AMQP/S, Redis, AWS SQS and eager (in-process)
func BrokerFactory(cnf *config.Config) (brokeriface.Broker, error) {
	if strings.HasPrefix(cnf.Broker, "amqp://") || strings.HasPrefix(cnf.Broker, "amqps://") {
		return amqpbroker.New(cnf), nil
	}

	if strings.HasPrefix(cnf.Broker, "redis://") || strings.HasPrefix(cnf.Broker, "rediss://") {
		var scheme string
		if strings.HasPrefix(cnf.Broker, "redis://") {
			scheme = "redis://"
		} else {
			scheme = "rediss://"
		}
		parts := strings.Split(cnf.Broker, scheme)
		if len(parts) != 2 {
			return nil, fmt.Errorf(
				"Redis broker connection string should be in format %shost:port, instead got %s", scheme,
				cnf.Broker,
			)
		}
		addrs := strings.Split(parts[1], ",")
		if len(addrs) > 1 {
			return redisbroker.New(cnf, addrs, 0), nil
		}

		redisHost, redisPassword, redisDB, err := ParseRedisURL(cnf.Broker)
		if err != nil {
			return nil, err
		}
		addr := redisHost
		if redisPassword != "" {
			addr = redisPassword + "@" + redisHost
		}
		return redisbroker.New(cnf, []string{addr}, redisDB), nil
	}

	if strings.HasPrefix(cnf.Broker, "eager") {
		return eagerbroker.New(), nil
	}

	if _, ok := os.LookupEnv("DISABLE_STRICT_SQS_CHECK"); ok {
		// disable SQS name check, so that users can use this with local simulated SQS
		// where the broker url might not start with https://sqs
		if strings.HasPrefix(cnf.Broker, "https://") || strings.HasPrefix(cnf.Broker, "http://") {
			return sqsbroker.New(cnf), nil
		}
	} else {
		if strings.HasPrefix(cnf.Broker, "https://sqs") {
			return sqsbroker.New(cnf), nil
		}
	}

	return nil, fmt.Errorf("Factory failed with broker URL: %v", cnf.Broker)
}

// BackendFactory creates a new object of backends iface.Backend
// Currently supported backends are Redis, Memcache, MongoDB and eager (in-process)
func BackendFactory(cnf *config.Config) (backendiface.Backend, error) {
	if strings.HasPrefix(cnf.ResultBackend, "memcache://") {
		parts := strings.Split(cnf.ResultBackend, "memcache://")
		if len(parts) != 2 {
			return nil, fmt.Errorf(
				"Memcache result backend connection string should be in format memcache://server1:port,server2:port, instead got %s",
				cnf.ResultBackend,
			)
		}
		servers := strings.Split(parts[1], ",")
		return memcachebackend.New(cnf, servers), nil
	}

	if strings.HasPrefix(cnf.ResultBackend, "redis://") || strings.HasPrefix(cnf.ResultBackend, "rediss://") {
		var scheme string
		if strings.HasPrefix(cnf.ResultBackend, "redis://") {
			scheme = "redis://"
		} else {
			scheme = "rediss://"
		}
		parts := strings.Split(cnf.ResultBackend, scheme)
		addrs := strings.Split(parts[1], ",")
		if len(addrs) > 1 {
			return redisbackend.New(cnf, addrs, 0), nil
		}

		redisHost, redisPassword, redisDB, err := ParseRedisURL(cnf.ResultBackend)
		if err != nil {
			return nil, err
		}
		addr := redisHost
		if redisPassword != "" {
			addr = redisPassword + "@" + redisHost
		}
		return redisbackend.New(cnf, []string{addr}, redisDB), nil
	}

	if strings.HasPrefix(cnf.ResultBackend, "mongodb://") ||
		strings.HasPrefix(cnf.ResultBackend, "mongodb+srv://") {
		return mongobackend.New(cnf)
	}

	if strings.HasPrefix(cnf.ResultBackend, "eager") {
		return eagerbackend.New(), nil
	}

	return nil, fmt.Errorf("Factory failed with result backend: %v", cnf.ResultBackend)
}

// ParseRedisURL parses a connection string in the format redis://pwd@host/db
func ParseRedisURL(url string) (host, password string, db int, err error) {
	var u *neturl.URL
	u, err = neturl.Parse(url)
	if err != nil {
		return
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		err = errors.New("No redis scheme found")
		return
	}

	if u.User != nil {
		var exists bool
		password, exists = u.User.Password()
		if !exists {
			password = u.User.Username()
		}
	}

	host = u.Host

	parts := strings.Split(u.Path, "/")
	if len(parts) == 1 {
		db = 0 // default redis db
	} else {
		db, err = strconv.Atoi(parts[1])
		if err != nil {
			db, err = 0, nil // ignore err here
		}
	}

	return
}
