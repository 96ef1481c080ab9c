package settings

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/haatos/deplora/internal/store"
	"golang.org/x/term"
)

var Settings *AppSettings

func NewSettings() *AppSettings {
	settings := AppSettings{
		Port:            getEnvOrDefault("DEPLORA_PORT", ":8080"),
		DatabaseDriver:  getEnvOrDefault("DEPLORA_DB_DRIVER", store.DriverSQLite),
		DatabasePath:    getEnvOrDefault("DEPLORA_DB_PATH", "file:deplora.sqlite"),
		APIToken:        os.Getenv("DEPLORA_API_TOKEN"),
		JenkinsURL:      getEnvOrDefault("JENKINS_URL", "http://localhost:8081"),
		JenkinsUsername: getEnvOrDefault("JENKINS_USERNAME", "admin"),
		JenkinsAPIToken: os.Getenv("JENKINS_API_TOKEN"),
	}
	if !strings.HasPrefix(settings.Port, ":") {
		settings.Port = ":" + settings.Port
	}
	return &settings
}

func getEnvOrDefault(key, defaultValue string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	return value
}

type AppSettings struct {
	Port            string
	DatabaseDriver  string
	DatabasePath    string
	APIToken        string
	JenkinsURL      string
	JenkinsUsername string
	JenkinsAPIToken string
}

// DatabaseDSN returns the connection string for the configured driver.
// SQLite paths get the pragmas for WAL mode and the requested access mode;
// other drivers use DatabasePath as is.
func (as *AppSettings) DatabaseDSN(readonly bool) string {
	if as.DatabaseDriver != store.DriverSQLite {
		return as.DatabasePath
	}
	params := make(url.Values)
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "cache_size(-20000)")
	if readonly {
		params.Add("mode", "ro")
	} else {
		params.Add("_txlock", "immediate")
		params.Add("mode", "rwc")
	}
	return as.DatabasePath + "?" + params.Encode()
}

// PromptJenkinsToken reads the Jenkins API token from in when none was
// configured and in is a terminal.
func (as *AppSettings) PromptJenkinsToken(in *os.File, out io.Writer) error {
	if as.JenkinsAPIToken != "" || !term.IsTerminal(int(in.Fd())) {
		return nil
	}
	fmt.Fprintf(out, "Jenkins API token for %s: ", as.JenkinsUsername)
	b, err := term.ReadPassword(int(in.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return err
	}
	as.JenkinsAPIToken = strings.TrimSpace(string(b))
	return nil
}

func ReadDotenv(path string) {
	re := regexp.MustCompile(`^[^0-9][A-Z0-9_]+=.+$`)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		log.Fatal("err opening dotenv: ", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) > 0 && line[0] != '#' && re.Match(line) {
			name, value, _ := strings.Cut(string(line), "=")
			value = strings.Trim(strings.TrimSpace(value), `"`)
			os.Setenv(strings.TrimSpace(name), value)
		}
	}
}
