package config

import "fmt"

// cloudSQLURL builds a PostgreSQL connection string for a Cloud SQL instance
// mounted by Cloud Run at /cloudsql/<instance>. An empty password selects IAM
// authentication.
func cloudSQLURL(instance, user, password, name string) (string, error) {
	if user == "" || name == "" {
		return "", fmt.Errorf("DB_USER and DB_NAME must be set when using INSTANCE_CONNECTION_NAME")
	}

	socketPath := fmt.Sprintf("/cloudsql/%s", instance)
	if password == "" {
		return fmt.Sprintf("host=%s user=%s dbname=%s sslmode=disable", socketPath, user, name), nil
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s sslmode=disable", socketPath, user, password, name), nil
}
