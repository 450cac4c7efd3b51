/*
Package ldap resolves user identities and group memberships against an LDAP
directory and verifies credentials by bind.

# Architecture Overview

  - ConnectionPool: fixed-size pool of connections to one endpoint, each bound
    as the configured service account
  - Service: filter construction, user lookup, credential checks, attribute
    caching and group resolution over a Directory
  - UserContext: a resolved DN plus the attributes already read for it
  - Filter: a small filter tree rendered to RFC 4515 text

# Connection Management

The pool dials every connection up front and fails as a whole if any of them
cannot be established or bound. Operations check a connection out for the
duration of one request and always return it. Checkout blocks while all
connections are in use.

BindAndRevert binds as an end user to verify a password and then re-binds the
connection as the service account (or anonymously) before returning it, so no
later request runs with another user's identity. A connection that cannot be
restored is discarded and re-dialed on the next checkout.

# Attribute Caching

A UserContext lives for one authentication/authorization cycle. FindUser seeds
it with cn; GetAttributeValues reads only the attributes not yet cached, in a
single request. There is no process-wide cache.

# Error Handling

Protocol failures are returned as *LDAPError carrying an ErrorCode that can be
matched with errors.Is:

	uc, err := svc.FindUser(ctx, "jdoe")
	if errors.Is(err, ldap.ErrUnknownUser) {
		// zero or several entries matched
	}

# Example Usage

	pool, err := ldap.NewConnectionPool(ctx, &ldap.ConnectionConfig{
		Host:         "ldap.example.com",
		Port:         389,
		PoolSize:     8,
		BindDN:       "cn=admin,dc=example,dc=com",
		BindPassword: "secret",
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := ldap.NewService(ctx, pool,
		ldap.UserSearchConfig{BaseDN: "ou=people,dc=example,dc=com", IDAttribute: "uid"},
		ldap.GroupSearchConfig{BaseDN: "ou=groups,dc=example,dc=com", MemberAttribute: "member"},
	)
*/
package ldap
