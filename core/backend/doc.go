/*
Package backend implements the configurable entity backend

A backend serves a RESTful API for entities described by JSON or YAML
configurations. Each configuration declares the fields of an entity as a JSON
schema, the permissions per action and per field, and joins to other entities.

Example:

	{
	  "entity_name": "posts",
	  "permissions": { "get": "anyone", "create": "user", "update": "own", "delete": "own" },
	  "schema": {
	    "required": ["title"],
	    "properties": {
	      "title":  { "type": "string" },
	      "author": { "$ref": "#user" },
	      "slug":   { "type": "string", "format": "slug", "set_from": "title" }
	    }
	  },
	  "join_properties": {
	    "comments": { "type": "findMany", "entity": "comments", "query": { "post": "{this.id}" } }
	  }
	}

This configuration creates the following REST routes:

	GET /api/v1/posts
	POST /api/v1/posts
	GET /api/v1/posts/{id}
	PUT /api/v1/posts/{id}
	DELETE /api/v1/posts/{id}

Every entity has the system fields "id", "createdAt" and "updatedAt". The
"author" field is set to the caller on create and makes the caller the owner
of the post, so "own" permits updates by the author only.

Responses

A single record is returned as {"item": {...}}, a list as
{"items": [...], "pageInfo": {...}, "totalCount": n}, where totalCount is only
present with the query parameter totalCount=true. Delete returns
{"result": true}, also for records that did not exist.

References are returned as {"id": ...} unless they are populated with the
query parameter populate, for example populate=author;category.

Hooks

Application code can hook into every pipeline:

	b.Hooks().Handle("posts", backend.BeforeCreate, func(ctx context.Context, event *backend.Event) error {
		if event.Record["title"] == "forbidden" {
			return backend.BadRequest("title is forbidden")
		}
		return nil
	})

A hook error aborts the request.

Accounts

Accounts which must exist before anyone can log in, like the first admin,
are created with EnsureAccounts:

	err := b.EnsureAccounts(ctx, backend.Account{ID: adminID, Admin: true})
*/
package backend
