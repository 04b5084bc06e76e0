// Package containers starts Docker-backed dependencies for integration
// tests with testcontainers-go:
//
//   - MySQL 8.0 for the relational cache store
//   - Eclipse Mosquitto for the lifecycle event publisher
//
// Containers are started once per package from TestMain:
//
//	var mysqlContainer *containers.MySQLContainer
//
//	func TestMain(m *testing.M) {
//	    var err error
//	    mysqlContainer, err = containers.NewMySQLContainer(context.Background(), nil)
//	    if err != nil {
//	        panic(err)
//	    }
//	    code := m.Run()
//	    _ = mysqlContainer.Terminate(context.Background())
//	    os.Exit(code)
//	}
//
// Every file in the package carries the "integration" build tag:
//
//	go test -tags=integration ./...
package containers
