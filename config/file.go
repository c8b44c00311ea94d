package config

import (
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/taskforge/forge/log"
)

// NewFromYaml creates a config object from YAML file
func NewFromYaml(cnfPath string, keepReloading bool) (*Config, error) {
	loadedCnf, err := fromFile(cnfPath)
	if err != nil {
		return nil, err
	}

	log.INFO.Printf("Successfully loaded config from file %s", cnfPath)

	Refresh(loadedCnf)

	if keepReloading {
		// Open a goroutine to watch remote changes forever
		go func() {
			for {
				// Delay after each request
				time.Sleep(reloadDelay)

				// Attempt to reload the config
				newCnf, newErr := fromFile(cnfPath)
				if newErr != nil {
					log.ERROR.Print("Failed to reload config from file: ", newErr)
					continue
				}

				Refresh(newCnf)
			}
		}()
	}

	return cnf, nil
}

// ReadFromFile reads data from a file
func ReadFromFile(cnfPath string) ([]byte, error) {
	data, err := ioutil.ReadFile(cnfPath)
	if err != nil {
		return nil, fmt.Errorf("Read from file error: %v", err)
	}

	return data, nil
}

func fromFile(cnfPath string) (*Config, error) {
	loadedCnf := new(Config)
	*loadedCnf = *defaultCnf

	data, err := ReadFromFile(cnfPath)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, loadedCnf); err != nil {
		return nil, fmt.Errorf("Unmarshal YAML error: %v", err)
	}

	return loadedCnf, nil
}
