package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var statements = []string{
	`create table if not exists users (
		id text primary key,
		username text not null,
		email text not null,
		password_hash text not null,
		first_name text not null default '',
		last_name text not null default '',
		phone text not null default '',
		roles text not null default '',
		is_active boolean not null default true,
		is_email_verified boolean not null default false,
		failed_login_attempts integer not null default 0,
		locked_until timestamptz,
		version bigint not null default 0,
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	)`,
	`create unique index if not exists users_username_key on users (lower(username))`,
	`create unique index if not exists users_email_key on users (lower(email))`,
	`create table if not exists orders (
		id text primary key,
		user_id text not null,
		total_amount bigint not null,
		status text not null,
		saga_state text not null,
		shipping_address text not null default '',
		payment_method text not null default '',
		version bigint not null default 0,
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	)`,
	`create index if not exists orders_user_id_idx on orders (user_id, created_at desc)`,
	`create table if not exists order_items (
		order_id text not null references orders(id) on delete cascade,
		position integer not null,
		product_id text not null,
		name text not null default '',
		quantity integer not null,
		unit_price bigint not null,
		primary key (order_id, position)
	)`,
}

func main() {
	log.SetFlags(0)
	dsn := flag.String("dsn", os.Getenv("PG_DSN"), "PostgreSQL DSN")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or PG_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			log.Fatalf("apply schema: %v", err)
		}
	}
	log.Println("schema up to date")
}
